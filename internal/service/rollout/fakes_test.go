package rollout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	testclock "k8s.io/utils/clock/testing"

	"github.com/AbhishekMashetty/axon/internal/cluster"
	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/events"
	"github.com/AbhishekMashetty/axon/internal/pipeline"
	"github.com/AbhishekMashetty/axon/internal/repository/memory"
)

type fakePipeline struct {
	mu       sync.Mutex
	trigger  func(req domain.DeploymentRequest) (pipeline.ExecutionHandle, error)
	status   func(handle pipeline.ExecutionHandle, call int) (pipeline.ExecutionStatus, error)
	cancel   func(handle pipeline.ExecutionHandle) error
	triggers int
	statuses int
	cancels  []string
}

func (f *fakePipeline) Trigger(_ context.Context, req domain.DeploymentRequest) (pipeline.ExecutionHandle, error) {
	f.mu.Lock()
	f.triggers++
	fn := f.trigger
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return pipeline.ExecutionHandle{ID: "exec-" + req.ServiceName}, nil
}

func (f *fakePipeline) ExecutionStatus(_ context.Context, handle pipeline.ExecutionHandle) (pipeline.ExecutionStatus, error) {
	f.mu.Lock()
	f.statuses++
	call := f.statuses
	fn := f.status
	f.mu.Unlock()
	if fn != nil {
		return fn(handle, call)
	}
	return pipeline.ExecutionStatus{State: pipeline.StateSucceeded, Raw: "Success"}, nil
}

func (f *fakePipeline) Cancel(_ context.Context, handle pipeline.ExecutionHandle) error {
	f.mu.Lock()
	f.cancels = append(f.cancels, handle.ID)
	fn := f.cancel
	f.mu.Unlock()
	if fn != nil {
		return fn(handle)
	}
	return nil
}

func (f *fakePipeline) counts() (triggers, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers, f.statuses
}

type fakeValidator struct {
	mu       sync.Mutex
	validate func(service string) (cluster.ValidationResult, error)
	calls    int
}

func (f *fakeValidator) Resolve(_ domain.Pillar, service, namespace string) cluster.Target {
	return cluster.Target{Kind: cluster.KindDeployment, Name: service, Namespace: namespace}
}

func (f *fakeValidator) Validate(_ context.Context, _ domain.Pillar, service, namespace string) (cluster.ValidationResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.validate
	f.mu.Unlock()
	if fn != nil {
		return fn(service)
	}
	return cluster.ValidationResult{Ready: true, Kind: cluster.KindDeployment, Name: service, Namespace: namespace}, nil
}

func (f *fakeValidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	orch      *Orchestrator
	store     *memory.Repository
	pipeline  *fakePipeline
	validator *fakeValidator
	events    *recordedEvents
	clock     *testclock.FakeClock
	sleepsMu  sync.Mutex
	sleeps    []time.Duration
}

func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.sleepsMu.Lock()
	h.sleeps = append(h.sleeps, d)
	h.sleepsMu.Unlock()
	h.clock.Step(d)
	return nil
}

func (h *harness) sleepCalls() []time.Duration {
	h.sleepsMu.Lock()
	defer h.sleepsMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func newHarness(t *testing.T, opts ...func(*Config, *Dependencies)) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		pipeline:  &fakePipeline{},
		validator: &fakeValidator{},
		events:    &recordedEvents{},
		clock:     testclock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	var seq int
	var seqMu sync.Mutex
	cfg := Config{
		Worker: WorkerConfig{
			DeploymentTimeout:  30 * time.Minute,
			PollInterval:       30 * time.Second,
			ValidationAttempts: 3,
			ValidationDelay:    30 * time.Second,
		},
		MaxWorkers:       3,
		PillarNamespaces: map[domain.Pillar]string{domain.PillarRisk: "risk-prod"},
	}
	deps := Dependencies{
		Store:     h.store,
		Pipeline:  h.pipeline,
		Validator: h.validator,
		Events:    h.events,
		Clock:     h.clock,
		Sleep:     h.sleep,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})),
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	h.orch = New(cfg, deps)
	return h
}

func requests(services ...string) []domain.DeploymentRequest {
	out := make([]domain.DeploymentRequest, 0, len(services))
	for _, s := range services {
		out = append(out, domain.DeploymentRequest{
			Pillar:          domain.PillarRisk,
			ServiceName:     s,
			ArtifactType:    domain.ArtifactDocker,
			ArtifactVersion: "1.0.0",
			EnvironmentID:   "prod",
		})
	}
	return out
}

// pendingDeployment submits a one-deployment batch and returns its stored deployment.
func (h *harness) pendingDeployment(t *testing.T, service string) *domain.Deployment {
	t.Helper()
	batch, err := h.orch.Submit(context.Background(), "single.yaml", requests(service), domain.ModeSequential)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	d := batch.Deployments[0]
	return &d
}

var errBoom = errors.New("boom")
