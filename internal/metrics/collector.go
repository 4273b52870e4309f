// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/dbinterface"
	"github.com/autobrr/fetcharr/internal/torrents"
)

// PipelineCollector reports the live state of the acquisition pipeline
// straight from the database on every scrape.
type PipelineCollector struct {
	db       dbinterface.Querier
	torrents torrents.Client

	requestsTotalDesc    *prometheus.Desc
	itemsDesc            *prometheus.Desc
	downloadsDesc        *prometheus.Desc
	downloadSpeedDesc    *prometheus.Desc
	assignmentsDesc      *prometheus.Desc
	torrentClientUpDesc  *prometheus.Desc
	subscribedShowsDesc  *prometheus.Desc
	unfinishedRunsDesc   *prometheus.Desc
	activityLastHourDesc *prometheus.Desc
}

func NewPipelineCollector(db dbinterface.Querier, torrentClient torrents.Client) *PipelineCollector {
	return &PipelineCollector{
		db:       db,
		torrents: torrentClient,

		requestsTotalDesc: prometheus.NewDesc(
			"fetcharr_requests_total",
			"Total number of media requests",
			nil,
			nil,
		),
		itemsDesc: prometheus.NewDesc(
			"fetcharr_processing_items",
			"Number of processing items by status",
			[]string{"status"},
			nil,
		),
		downloadsDesc: prometheus.NewDesc(
			"fetcharr_downloads",
			"Number of tracked downloads by status",
			[]string{"status"},
			nil,
		),
		downloadSpeedDesc: prometheus.NewDesc(
			"fetcharr_download_speed_bytes_per_second",
			"Aggregate download speed across active downloads",
			nil,
			nil,
		),
		assignmentsDesc: prometheus.NewDesc(
			"fetcharr_encoder_assignments",
			"Number of encoder pool assignments by status",
			[]string{"status"},
			nil,
		),
		torrentClientUpDesc: prometheus.NewDesc(
			"fetcharr_torrent_client_up",
			"Whether the torrent client is reachable (1=up, 0=down)",
			nil,
			nil,
		),
		subscribedShowsDesc: prometheus.NewDesc(
			"fetcharr_subscribed_shows",
			"Number of TV requests subscribed to new episodes",
			nil,
			nil,
		),
		unfinishedRunsDesc: prometheus.NewDesc(
			"fetcharr_pipeline_executions_unfinished",
			"Number of pipeline executions that are running or paused",
			nil,
			nil,
		),
		activityLastHourDesc: prometheus.NewDesc(
			"fetcharr_activity_events_last_hour",
			"Activity log entries recorded in the last hour",
			nil,
			nil,
		),
	}
}

func (c *PipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotalDesc
	ch <- c.itemsDesc
	ch <- c.downloadsDesc
	ch <- c.downloadSpeedDesc
	ch <- c.assignmentsDesc
	ch <- c.torrentClientUpDesc
	ch <- c.subscribedShowsDesc
	ch <- c.unfinishedRunsDesc
	ch <- c.activityLastHourDesc
}

func (c *PipelineCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.db == nil {
		log.Debug().Msg("metrics: database is nil, skipping pipeline metrics")
		return
	}

	c.collectGauge(ctx, ch, c.requestsTotalDesc, `SELECT COUNT(*) FROM requests`)
	c.collectGauge(ctx, ch, c.subscribedShowsDesc, `SELECT COUNT(*) FROM requests WHERE subscribed = 1`)
	c.collectGauge(ctx, ch, c.unfinishedRunsDesc, `SELECT COUNT(*) FROM executions WHERE status IN ('running', 'paused')`)
	c.collectGauge(ctx, ch, c.activityLastHourDesc, `SELECT COUNT(*) FROM activity_logs WHERE created_at >= datetime('now', '-1 hour')`)
	c.collectGauge(ctx, ch, c.downloadSpeedDesc, `SELECT COALESCE(SUM(speed), 0) FROM downloads WHERE status = 'downloading'`)

	c.collectByStatus(ctx, ch, c.itemsDesc, `SELECT status, COUNT(*) FROM processing_items GROUP BY status`)
	c.collectByStatus(ctx, ch, c.downloadsDesc, `SELECT status, COUNT(*) FROM downloads GROUP BY status`)
	c.collectByStatus(ctx, ch, c.assignmentsDesc, `SELECT status, COUNT(*) FROM encoder_assignments GROUP BY status`)

	if c.torrents != nil {
		up := 1.0
		if err := c.torrents.Health(ctx); err != nil {
			up = 0.0
		}
		ch <- prometheus.MustNewConstMetric(c.torrentClientUpDesc, prometheus.GaugeValue, up)
	}
}

func (c *PipelineCollector) collectGauge(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	var value float64
	if err := c.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		log.Warn().Err(err).Msg("metrics: failed to collect gauge")
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value)
}

func (c *PipelineCollector) collectByStatus(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("metrics: failed to collect status counts")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count float64
		if err := rows.Scan(&status, &count); err != nil {
			log.Warn().Err(err).Msg("metrics: failed to scan status count")
			return
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, count, status)
	}
	if err := rows.Err(); err != nil {
		log.Warn().Err(err).Msg("metrics: failed to iterate status counts")
	}
}
