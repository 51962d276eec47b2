package main

import (
	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
	"github.com/AbhishekMashetty/axon/internal/retry"
	"github.com/AbhishekMashetty/axon/internal/service/rollout"
	"github.com/AbhishekMashetty/axon/pkg/config"
)

func pipelineConfig(cfg config.PipelineConfig) pipeline.Config {
	endpoints := make(map[domain.Pillar]string, len(cfg.Webhooks))
	for name, url := range cfg.Webhooks {
		pillar, err := domain.ParsePillar(name)
		if err != nil || url == "" {
			continue
		}
		endpoints[pillar] = url
	}
	return pipeline.Config{
		BaseURL:        cfg.BaseURL,
		APIToken:       cfg.APIToken,
		Endpoints:      endpoints,
		RequestTimeout: cfg.RequestTimeout,
		Retry:          retry.Exponential(cfg.RetryAttempts, cfg.RetryBackoff).WithJitter(cfg.RetryJitter),
	}
}

func orchestratorConfig(cfg config.OrchestratorConfig) rollout.Config {
	namespaces := make(map[domain.Pillar]string, len(cfg.PillarNamespaces))
	for name, ns := range cfg.PillarNamespaces {
		if pillar, err := domain.ParsePillar(name); err == nil {
			namespaces[pillar] = ns
		}
	}
	return rollout.Config{
		MaxWorkers:       cfg.MaxWorkers,
		PillarNamespaces: namespaces,
		Worker: rollout.WorkerConfig{
			DeploymentTimeout:  cfg.DeploymentTimeout,
			PollInterval:       cfg.StatusPollInterval,
			ValidationAttempts: cfg.ValidationAttempts,
			ValidationDelay:    cfg.ValidationDelay,
		},
	}
}
