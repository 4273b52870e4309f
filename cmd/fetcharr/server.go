// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

func RunServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Storage server operations",
	}

	cmd.AddCommand(runServerAddCommand())
	cmd.AddCommand(runServerListCommand())
	return cmd
}

func runServerAddCommand() *cobra.Command {
	var (
		protocol      string
		host          string
		port          int
		username      string
		share         string
		movieRoot     string
		tvRoot        string
		maxResolution string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a storage server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := &models.StorageServer{
				Name:          args[0],
				Protocol:      models.TransportProtocol(protocol),
				Host:          host,
				Port:          port,
				Username:      username,
				Share:         share,
				MovieRoot:     movieRoot,
				TVRoot:        tvRoot,
				MaxResolution: domain.Resolution(maxResolution),
			}
			if !srv.Protocol.IsValid() {
				return fmt.Errorf("unknown protocol %q", protocol)
			}
			if srv.MovieRoot == "" && srv.TVRoot == "" {
				return fmt.Errorf("at least one of --movie-root or --tv-root is required")
			}

			if srv.Protocol != models.ProtocolLocal {
				if srv.Host == "" {
					return fmt.Errorf("--host is required for protocol %q", protocol)
				}
				cmd.Print("Password (leave empty for key-based auth): ")
				password, err := term.ReadPassword(int(os.Stdin.Fd()))
				cmd.Println()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				srv.Password = string(password)
			}

			db, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			created, err := models.NewStorageServerStore(db).Create(cmd.Context(), srv)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			cmd.Printf("Server %q registered (id %d)\n", created.Name, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&protocol, "protocol", "local", "Transport protocol: local, sftp, rsync or smb")
	cmd.Flags().StringVar(&host, "host", "", "Remote host")
	cmd.Flags().IntVar(&port, "port", 0, "Remote port (0 uses the protocol default)")
	cmd.Flags().StringVar(&username, "username", "", "Remote username")
	cmd.Flags().StringVar(&share, "share", "", "SMB share name")
	cmd.Flags().StringVar(&movieRoot, "movie-root", "", "Movie library root on the server")
	cmd.Flags().StringVar(&tvRoot, "tv-root", "", "TV library root on the server")
	cmd.Flags().StringVar(&maxResolution, "max-resolution", "1080p", "Highest resolution this server accepts")
	return cmd
}

func runServerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered storage servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			servers, err := models.NewStorageServerStore(db).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				cmd.Println("No storage servers registered.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROTOCOL\tHOST\tMAX RES\tMOVIE ROOT\tTV ROOT")
			for _, srv := range servers {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					srv.ID, srv.Name, srv.Protocol, srv.Host, srv.MaxResolution, srv.MovieRoot, srv.TVRoot)
			}
			return w.Flush()
		},
	}
}
