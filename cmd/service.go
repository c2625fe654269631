package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/daikw/ttsbridge/internal/artifact"
	"github.com/daikw/ttsbridge/internal/config"
	"github.com/daikw/ttsbridge/internal/metrics"
	"github.com/daikw/ttsbridge/internal/speech"
	"github.com/daikw/ttsbridge/internal/tool"
)

// service bundles the components shared by every command.
type service struct {
	cfg        config.Config
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	store      *artifact.Store
	client     *speech.Client
	dispatcher *tool.Dispatcher
}

func newService(cfg config.Config, audioPrefix string) *service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := artifact.NewStore(cfg.AudioDir)
	client := speech.NewClient(speech.ClientConfig{
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}).WithObserver(m)

	return &service{
		cfg:      cfg,
		registry: reg,
		metrics:  m,
		store:    store,
		client:   client,
		dispatcher: tool.NewDispatcher(client, store,
			tool.WithMetrics(m),
			tool.WithPublicPrefix(audioPrefix),
		),
	}
}

func (s *service) warnIfNoCredential() {
	if !s.client.HasCredential() {
		log.Warn().Msg("OPENAI_API_KEY is not set, synthesize calls will fail")
	}
}
