// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/dbinterface"
	"github.com/autobrr/fetcharr/internal/torrents"
)

type Manager struct {
	registry          *prometheus.Registry
	pipelineCollector *PipelineCollector
}

func NewMetricsManager(db dbinterface.Querier, torrentClient torrents.Client) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipelineCollector := NewPipelineCollector(db, torrentClient)
	registry.MustRegister(pipelineCollector)

	log.Info().Msg("Metrics manager initialized with pipeline collector")

	return &Manager{
		registry:          registry,
		pipelineCollector: pipelineCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
