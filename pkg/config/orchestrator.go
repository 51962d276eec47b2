package config

import (
	"strings"
	"time"
)

// pillarNames mirrors the pillars the orchestrator knows how to trigger.
var pillarNames = []string{"clearing", "risk", "data", "shared"}

// PipelineConfig configures the pipeline trigger client.
type PipelineConfig struct {
	BaseURL        string
	APIToken       string
	Webhooks       map[string]string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	RetryJitter    float64
}

// OrchestratorConfig holds batch processing settings. It is loaded once at startup.
type OrchestratorConfig struct {
	MaxWorkers          int
	DeploymentTimeout   time.Duration
	StatusPollInterval  time.Duration
	ValidationAttempts  int
	ValidationDelay     time.Duration
	ServiceMappingsPath string
	PillarNamespaces    map[string]string
	KubeconfigPath      string
	Pipeline            PipelineConfig
}

// LoadOrchestratorConfig constructs an OrchestratorConfig from environment variables.
func LoadOrchestratorConfig() OrchestratorConfig {
	webhooks := make(map[string]string, len(pillarNames))
	namespaces := make(map[string]string, len(pillarNames))
	for _, pillar := range pillarNames {
		key := strings.ToUpper(pillar)
		webhooks[pillar] = strings.TrimSpace(GetString("PIPELINE_"+key+"_WEBHOOK", ""))
		if ns := strings.TrimSpace(GetString("PILLAR_"+key+"_NAMESPACE", "")); ns != "" {
			namespaces[pillar] = ns
		}
	}
	return OrchestratorConfig{
		MaxWorkers:          GetInt("MAX_DEPLOYMENT_WORKERS", 5),
		DeploymentTimeout:   GetSeconds("DEPLOYMENT_TIMEOUT_SECONDS", 1800),
		StatusPollInterval:  GetSeconds("STATUS_POLL_SECONDS", 30),
		ValidationAttempts:  GetInt("VALIDATION_RETRY_COUNT", 3),
		ValidationDelay:     GetSeconds("VALIDATION_RETRY_DELAY_SECONDS", 30),
		ServiceMappingsPath: GetString("SERVICE_MAPPINGS_PATH", ""),
		PillarNamespaces:    namespaces,
		KubeconfigPath:      GetString("KUBECONFIG", ""),
		Pipeline: PipelineConfig{
			BaseURL:        strings.TrimRight(GetString("PIPELINE_BASE_URL", "https://app.harness.io"), "/"),
			APIToken:       GetString("PIPELINE_API_TOKEN", ""),
			Webhooks:       webhooks,
			RequestTimeout: GetSeconds("TRIGGER_TIMEOUT_SECONDS", 30),
			RetryAttempts:  GetInt("TRIGGER_RETRY_COUNT", 3),
			RetryBackoff:   GetSeconds("TRIGGER_BACKOFF_SECONDS", 2),
			RetryJitter:    float64(GetInt("TRIGGER_JITTER_PERCENT", 10)) / 100,
		},
	}
}
