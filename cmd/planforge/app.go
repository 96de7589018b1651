package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"planforge/pkg/agent"
	"planforge/pkg/clarify"
	"planforge/pkg/compose"
	"planforge/pkg/config"
	"planforge/pkg/gateway"
	"planforge/pkg/metrics"
	"planforge/pkg/scaffold"
	"planforge/pkg/session"
)

// app is the wired set of collaborators both commands run on.
type app struct {
	cfg      *config.Config
	orch     *session.Orchestrator
	store    *session.Store
	registry *prometheus.Registry
}

// newApp builds the LLM client chain, the collaborators, and the orchestrator.
// storeOpts lets serve attach a persister. A nil registry disables metrics.
func newApp(cfg *config.Config, registry *prometheus.Registry, storeOpts ...session.StoreOption) (*app, error) {
	var reg prometheus.Registerer
	if registry != nil {
		reg = registry
	}

	client, err := agent.NewLLMClient(&cfg.Model, agent.Options{Registerer: reg})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	gw := gateway.New(client, gateway.Options{
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		JSON:        true,
	})

	store := session.NewStore(storeOpts...)
	var orchOpts []session.Option
	if registry != nil {
		orchOpts = append(orchOpts, session.WithRecorder(metrics.NewSessionRecorder(registry)))
		registry.MustRegister(metrics.NewStateCollector(store))
	}

	var scaffoldOpts []scaffold.Option
	if cfg.Scaffold.Blueprint {
		scaffoldOpts = append(scaffoldOpts, scaffold.WithBlueprint(gw))
	}

	orch := session.NewOrchestrator(
		store,
		clarify.New(gw, cfg.Clarify),
		compose.New(gw),
		scaffold.New(cfg.Scaffold, scaffoldOpts...),
		orchOpts...,
	)
	return &app{cfg: cfg, orch: orch, store: store, registry: registry}, nil
}
