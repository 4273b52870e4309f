// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/autobrr/fetcharr/internal/config"
)

func RunDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBBackupCommand())
	cmd.AddCommand(runDBIntegrityCommand())
	return cmd
}

func openDatabase(cmd *cobra.Command) (*sql.DB, string, error) {
	appCfg, err := config.New(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	dbPath := appCfg.GetDatabasePath()
	if _, err := os.Stat(dbPath); err != nil {
		return nil, "", fmt.Errorf("database not found at %s: %w", dbPath, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	return conn, dbPath, nil
}

func runDBBackupCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent zstd-compressed snapshot of the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, dbPath, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			if output == "" {
				stamp := time.Now().Format("20060102-150405")
				output = filepath.Join(filepath.Dir(dbPath), fmt.Sprintf("fetcharr-%s.db.zst", stamp))
			}

			// VACUUM INTO produces a consistent copy even while the
			// server is running.
			tmp := output + ".tmp"
			defer os.Remove(tmp)
			if _, err := conn.ExecContext(cmd.Context(), "VACUUM INTO ?", tmp); err != nil {
				return fmt.Errorf("failed to snapshot database: %w", err)
			}

			if err := compressFile(tmp, output); err != nil {
				return err
			}

			info, err := os.Stat(output)
			if err != nil {
				return err
			}
			cmd.Printf("Backup written to %s (%d bytes)\n", output, info.Size())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Backup destination (default: fetcharr-<timestamp>.db.zst next to the database)")
	return cmd
}

func runDBIntegrityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Run SQLite integrity checks against the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, dbPath, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			rows, err := conn.QueryContext(cmd.Context(), "PRAGMA integrity_check")
			if err != nil {
				return fmt.Errorf("integrity check failed to run: %w", err)
			}
			defer rows.Close()

			var problems []string
			for rows.Next() {
				var line string
				if err := rows.Scan(&line); err != nil {
					return err
				}
				if line != "ok" {
					problems = append(problems, line)
				}
			}
			if err := rows.Err(); err != nil {
				return err
			}

			var fkProblems int
			fkRows, err := conn.QueryContext(cmd.Context(), "PRAGMA foreign_key_check")
			if err != nil {
				return fmt.Errorf("foreign key check failed to run: %w", err)
			}
			defer fkRows.Close()
			for fkRows.Next() {
				fkProblems++
			}
			if err := fkRows.Err(); err != nil {
				return err
			}

			if len(problems) > 0 || fkProblems > 0 {
				for _, p := range problems {
					cmd.PrintErrln(p)
				}
				return fmt.Errorf("%s failed integrity checks: %d structural, %d foreign key", dbPath, len(problems), fkProblems)
			}

			cmd.Printf("%s: ok\n", dbPath)
			return nil
		},
	}
}

func compressFile(src, dst string) error {
	if !strings.HasSuffix(dst, ".zst") {
		// Uncompressed copy when the target does not ask for zstd.
		return os.Rename(src, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return errors.Join(err, os.Remove(dst))
	}
	return enc.Close()
}
