// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/fetcharr/internal/api"
	"github.com/autobrr/fetcharr/internal/buildinfo"
	"github.com/autobrr/fetcharr/internal/config"
	"github.com/autobrr/fetcharr/internal/database"
	"github.com/autobrr/fetcharr/internal/encoder"
	"github.com/autobrr/fetcharr/internal/indexer"
	"github.com/autobrr/fetcharr/internal/library"
	"github.com/autobrr/fetcharr/internal/logger"
	"github.com/autobrr/fetcharr/internal/metadata"
	"github.com/autobrr/fetcharr/internal/metrics"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
	"github.com/autobrr/fetcharr/internal/pipeline/steps"
	"github.com/autobrr/fetcharr/internal/quality"
	"github.com/autobrr/fetcharr/internal/services/delivery"
	"github.com/autobrr/fetcharr/internal/services/encodecoord"
	"github.com/autobrr/fetcharr/internal/services/filemapper"
	"github.com/autobrr/fetcharr/internal/services/reconciler"
	"github.com/autobrr/fetcharr/internal/services/requests"
	"github.com/autobrr/fetcharr/internal/services/scheduler"
	"github.com/autobrr/fetcharr/internal/services/selector"
	"github.com/autobrr/fetcharr/internal/torrents"
	"github.com/autobrr/fetcharr/internal/transport"
	"github.com/autobrr/fetcharr/internal/update"
)

func RunServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the fetcharr server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

// branchRunner defers the Branch step's executor reference until wiring is
// complete; the registry needs the runner and the executor needs the
// registry.
type branchRunner struct {
	exec *pipeline.Executor
}

func (r *branchRunner) RunEpisodeBranches(ctx context.Context, parent *models.Execution, branches []pipeline.EpisodeBranch) error {
	return r.exec.RunEpisodeBranches(ctx, parent, branches)
}

func runServe(cmd *cobra.Command) error {
	appCfg, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := appCfg.Config

	logger.Init(cfg)
	appCfg.OnLogLevelChange(logger.SetLogLevel)
	appCfg.Watch()

	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.Commit).
		Msg("starting fetcharr")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(appCfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	requestStore := models.NewRequestStore(db)
	itemStore := models.NewProcessingItemStore(db)
	downloadStore := models.NewDownloadStore(db)
	executionStore := models.NewExecutionStore(db)
	templateStore := models.NewPipelineTemplateStore(db)
	assignmentStore := models.NewEncoderAssignmentStore(db)
	activityStore := models.NewActivityLogStore(db)
	serverStore := models.NewStorageServerStore(db)
	profileStore := models.NewEncodingProfileStore(db)
	libcacheStore := models.NewLibraryCacheStore(db)

	torrentClient, err := torrents.NewQbitClient(ctx, cfg.TorrentURL, cfg.TorrentUsername, cfg.TorrentPassword, cfg.TorrentCategory)
	if err != nil {
		return fmt.Errorf("failed to connect to torrent client: %w", err)
	}

	indexerClient, err := indexer.NewMultiClient(cfg.Indexers, cfg.IndexerProxy)
	if err != nil {
		return fmt.Errorf("failed to build indexer client: %w", err)
	}

	tmdb := metadata.NewTMDBClient(cfg.MetadataURL, cfg.MetadataAPIKey)
	pool := encoder.NewHTTPPool(cfg.EncoderPoolURL, cfg.EncoderPoolToken)
	engine := quality.NewEngine()

	sel := selector.New(engine, indexerClient)
	mapper := filemapper.New(itemStore, engine, torrentClient)
	encodeCoord := encodecoord.New(profileStore, serverStore, assignmentStore, itemStore, activityStore, pool, cfg.EncodePollInterval)
	deliveryCoord := delivery.New(serverStore, libcacheStore, activityStore, transport.NewRegistry(), library.NewHTTPScanner(), cfg.DeliveryConcurrency)

	rec := reconciler.New(downloadStore, itemStore, activityStore, engine, torrentClient, indexerClient, reconciler.Config{
		PollInterval: cfg.MonitorPollInterval,
		StallWindow:  cfg.DownloadStallWindow,
		SpeedFloor:   cfg.DownloadSpeedFloor,
		MovieTimeout: cfg.MovieDownloadTimeout,
		TVTimeout:    cfg.TVDownloadTimeout,
	})

	runner := &branchRunner{}
	registry := steps.NewDefaultRegistry(steps.Deps{
		Requests:   requestStore,
		Items:      itemStore,
		Downloads:  downloadStore,
		Executions: executionStore,
		Activity:   activityStore,
		Selector:   sel,
		Reconciler: rec,
		Mapper:     mapper,
		Encoder:    encodeCoord,
		Delivery:   deliveryCoord,
		Pool:       pool,
		Runner:     runner,
	})

	executor := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Requests:    requestStore,
		Items:       itemStore,
		Executions:  executionStore,
		Templates:   templateStore,
		Assignments: assignmentStore,
		Activity:    activityStore,
		Registry:    registry,
		Pool:        pool,
	})
	runner.exec = executor

	requestService := requests.NewService(requestStore, itemStore, serverStore, libcacheStore, activityStore, tmdb, executor)

	if err := executor.ResumeUnfinished(ctx); err != nil {
		log.Error().Err(err).Msg("failed to resume unfinished executions")
	}

	sched := scheduler.NewService(scheduler.Config{
		RetryInterval:   cfg.RetryAwaitingInterval,
		StuckInterval:   cfg.StuckDetectorInterval,
		StuckThreshold:  cfg.StuckThreshold,
		HealthInterval:  cfg.DownloadHealthInterval,
		EpisodeInterval: cfg.EpisodeCheckInterval,
	}, requestStore, itemStore, downloadStore, executionStore, assignmentStore, activityStore, tmdb, rec, executor)
	sched.Start(ctx)

	updateService := update.NewService(log.Logger, cfg.CheckForUpdates, buildinfo.Version, buildinfo.UserAgent)
	updateService.Start(ctx)

	var metricsServer *metrics.Server
	if cfg.MetricsEnabled {
		manager := metrics.NewMetricsManager(db, torrentClient)
		metricsServer = metrics.NewMetricsServer(manager, cfg.MetricsHost, cfg.MetricsPort, cfg.MetricsBasicAuthUsers)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	server := api.NewServer(&api.Dependencies{
		Config:    appCfg,
		DB:        db,
		Requests:  requestService,
		Templates: templateStore,
		Servers:   serverStore,
		Profiles:  profileStore,
		Torrents:  torrentClient,
	})

	err = server.ListenAndServe(ctx)

	if metricsServer != nil {
		if stopErr := metricsServer.Stop(); stopErr != nil {
			log.Error().Err(stopErr).Msg("failed to stop metrics server")
		}
	}

	log.Info().Msg("fetcharr stopped")
	return err
}
