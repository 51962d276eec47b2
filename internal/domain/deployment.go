package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pillar groups services that share deployment configuration.
type Pillar string

// Known pillars.
const (
	PillarClearing Pillar = "clearing"
	PillarRisk     Pillar = "risk"
	PillarData     Pillar = "data"
	PillarShared   Pillar = "shared"
)

// Pillars lists the supported pillars.
var Pillars = []Pillar{PillarClearing, PillarRisk, PillarData, PillarShared}

// ParsePillar validates a pillar name.
func ParsePillar(value string) (Pillar, error) {
	p := Pillar(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Pillars {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown pillar %q", value)
}

// ArtifactType describes how the pipeline packages the service.
type ArtifactType string

// Supported artifact types.
const (
	ArtifactDocker    ArtifactType = "docker"
	ArtifactHelm      ArtifactType = "helm"
	ArtifactKustomize ArtifactType = "kustomize"
)

// ProcessingMode selects how a batch fans out to workers.
type ProcessingMode string

// Processing modes.
const (
	ModeSequential ProcessingMode = "sequential"
	ModeParallel   ProcessingMode = "parallel"
)

// ParseProcessingMode defaults to parallel when value is empty.
func ParseProcessingMode(value string) (ProcessingMode, error) {
	switch ProcessingMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeParallel:
		return ModeParallel, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("unknown processing mode %q", value)
	}
}

// Metadata carries optional per-request hints forwarded to the pipeline.
type Metadata struct {
	Priority         int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	TimeoutSeconds   int      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount       *int     `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	Tags             []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	RollbackStrategy string   `json:"rollback_strategy,omitempty" yaml:"rollback_strategy,omitempty"`
}

// DeploymentRequest is the immutable input for one deployment.
type DeploymentRequest struct {
	Pillar           Pillar       `json:"pillar"`
	ServiceName      string       `json:"service_name"`
	ArtifactType     ArtifactType `json:"docker_artifact_type"`
	ArtifactVersion  string       `json:"docker_image_version"`
	EnvironmentID    string       `json:"environment_id"`
	InfrastructureID string       `json:"infrastructure_id"`
	Metadata         Metadata     `json:"metadata"`
}

// ObjectRef identifies the cluster workload backing a service.
type ObjectRef struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// Deployment tracks one request through its lifecycle.
type Deployment struct {
	ID           string            `json:"id"`
	BatchID      string            `json:"batch_id"`
	Position     int               `json:"position"`
	Request      DeploymentRequest `json:"request"`
	Target       ObjectRef         `json:"target"`
	Status       Status            `json:"status"`
	ExecutionID  string            `json:"execution_id,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Transition moves the deployment to a new status, rejecting moves outside the lifecycle.
func (d *Deployment) Transition(to Status, at time.Time) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: deployment %s %s -> %s", ErrInvalidTransition, d.ID, d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = at
	switch to {
	case StatusProcessing:
		d.StartedAt = &at
		d.ErrorMessage = ""
	case StatusSuccess, StatusFailed:
		d.CompletedAt = &at
	}
	return nil
}

// Fail transitions the deployment to FAILED recording reason.
func (d *Deployment) Fail(reason string, at time.Time) error {
	if err := d.Transition(StatusFailed, at); err != nil {
		return err
	}
	d.ErrorMessage = reason
	return nil
}

// Batch groups the deployments submitted together.
type Batch struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	Status      Status         `json:"status"`
	Mode        ProcessingMode `json:"mode"`
	Total       int            `json:"total"`
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Deployments []Deployment   `json:"deployments,omitempty"`
}

// Settle recomputes counters and status from the owned deployments. Once every deployment is
// terminal Successful+Failed equals Total.
func (b *Batch) Settle(at time.Time) {
	b.Total = len(b.Deployments)
	b.Successful = 0
	b.Failed = 0
	for _, d := range b.Deployments {
		switch d.Status {
		case StatusSuccess, StatusRollback:
			b.Successful++
		case StatusFailed:
			b.Failed++
		}
	}
	b.Status = ComputeBatchStatus(b.Deployments)
	b.UpdatedAt = at
	if b.Status.Terminal() {
		b.CompletedAt = &at
	}
}
