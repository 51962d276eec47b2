package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func meta(name, namespace string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name, Namespace: namespace}
}

func TestValidateDeploymentReadiness(t *testing.T) {
	cases := []struct {
		name      string
		replicas  *int32
		ready     int32
		available int32
		want      bool
	}{
		{"all ready", ptr.To[int32](3), 3, 3, true},
		{"ready but not available", ptr.To[int32](3), 3, 2, false},
		{"partially ready", ptr.To[int32](3), 2, 2, false},
		{"nil replicas defaults to one", nil, 1, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dep := &appsv1.Deployment{
				ObjectMeta: meta("risk-engine", "default"),
				Spec:       appsv1.DeploymentSpec{Replicas: tc.replicas},
				Status:     appsv1.DeploymentStatus{ReadyReplicas: tc.ready, AvailableReplicas: tc.available},
			}
			v := New(fake.NewSimpleClientset(dep), nil, discardLogger())
			res, err := v.Validate(context.Background(), domain.PillarRisk, "risk-engine", "")
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if res.Ready != tc.want {
				t.Fatalf("expected ready=%v, got %v (%s)", tc.want, res.Ready, res.Detail)
			}
			if res.Kind != KindDeployment || res.Namespace != DefaultNamespace {
				t.Fatalf("unexpected target %s %s", res.Kind, res.Namespace)
			}
		})
	}
}

func TestValidateMissingObjectIsNotReady(t *testing.T) {
	mappings := ServiceMappings{"data": {
		"ingester":  {ObjectType: "job", Namespace: "data-platform"},
		"scheduler": {ObjectType: "cronjob"},
		"processor": {ObjectType: "pod"},
		"store":     {ObjectType: "statefulset"},
		"agent":     {ObjectType: "daemonset"},
	}}
	v := New(fake.NewSimpleClientset(), mappings, discardLogger())
	for _, service := range []string{"ingester", "scheduler", "processor", "store", "agent", "unmapped"} {
		res, err := v.Validate(context.Background(), domain.PillarData, service, "")
		if err != nil {
			t.Fatalf("%s: expected no error for missing object, got %v", service, err)
		}
		if res.Ready {
			t.Fatalf("%s: expected not ready", service)
		}
	}
}

func TestValidateWorkloadKinds(t *testing.T) {
	objects := []runtime.Object{
		&appsv1.StatefulSet{
			ObjectMeta: meta("ledger", "clearing-ns"),
			Spec:       appsv1.StatefulSetSpec{Replicas: ptr.To[int32](2)},
			Status:     appsv1.StatefulSetStatus{ReadyReplicas: 2},
		},
		&appsv1.DaemonSet{
			ObjectMeta: meta("collector", "clearing-ns"),
			Status:     appsv1.DaemonSetStatus{DesiredNumberScheduled: 4, NumberReady: 3},
		},
		&batchv1.Job{
			ObjectMeta: meta("migrator", "clearing-ns"),
			Status:     batchv1.JobStatus{Succeeded: 1, Active: 1},
		},
		&batchv1.CronJob{
			ObjectMeta: meta("reconciler", "clearing-ns"),
			Spec:       batchv1.CronJobSpec{Schedule: "*/5 * * * *"},
		},
		&corev1.Pod{
			ObjectMeta: meta("worker", "clearing-ns"),
			Status:     corev1.PodStatus{Phase: corev1.PodPending},
		},
	}
	mappings := ServiceMappings{"clearing": {
		"ledger":     {ObjectType: "StatefulSet", Namespace: "clearing-ns"},
		"collector":  {ObjectType: "daemon-set", Namespace: "clearing-ns"},
		"migrator":   {ObjectType: "job", Namespace: "clearing-ns"},
		"reconciler": {ObjectType: "cron_job", Namespace: "clearing-ns"},
		"worker":     {ObjectType: "pod", Namespace: "clearing-ns"},
	}}
	v := New(fake.NewSimpleClientset(objects...), mappings, discardLogger())
	want := map[string]bool{
		"ledger":     true,
		"collector":  false,
		"migrator":   true,
		"reconciler": true,
		"worker":     false,
	}
	for service, ready := range want {
		res, err := v.Validate(context.Background(), domain.PillarClearing, service, "ignored")
		if err != nil {
			t.Fatalf("%s: validate: %v", service, err)
		}
		if res.Ready != ready {
			t.Fatalf("%s: expected ready=%v, got %v (%s)", service, ready, res.Ready, res.Detail)
		}
		if res.Namespace != "clearing-ns" {
			t.Fatalf("%s: expected mapping namespace, got %s", service, res.Namespace)
		}
	}
}

func compositeObjects(withPod, withService, withIngress bool) []runtime.Object {
	var objs []runtime.Object
	if withPod {
		objs = append(objs, &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "svc-a-7f9", Namespace: "clearing-ns", Labels: map[string]string{"app": "svc-a"}},
			Status:     corev1.PodStatus{Phase: corev1.PodRunning},
		})
	}
	if withService {
		objs = append(objs, &corev1.Service{ObjectMeta: meta("svc-a", "clearing-ns")})
	}
	if withIngress {
		objs = append(objs, &networkingv1.Ingress{ObjectMeta: meta("svc-a", "clearing-ns")})
	}
	return objs
}

func TestValidateCompositeMajorityRule(t *testing.T) {
	mappings := ServiceMappings{"clearing": {
		"svc-a": {ObjectType: "customresource", Namespace: "clearing-ns", SubResources: []string{"crd", "pod", "service", "ingress"}},
	}}
	cases := []struct {
		name                  string
		pod, service, ingress bool
		want                  bool
	}{
		{"three of three", true, true, true, true},
		{"two of three", true, true, false, true},
		{"one of three", false, false, true, false},
		{"none", false, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := New(fake.NewSimpleClientset(compositeObjects(tc.pod, tc.service, tc.ingress)...), mappings, discardLogger())
			res, err := v.Validate(context.Background(), domain.PillarClearing, "svc-a", "")
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if res.Ready != tc.want {
				t.Fatalf("expected ready=%v, got %v (%s)", tc.want, res.Ready, res.Detail)
			}
			if len(res.SubResources) != 3 {
				t.Fatalf("expected custom resource marker to be excluded, got %d members", len(res.SubResources))
			}
		})
	}
}

func TestValidateCompositeHalfIsReady(t *testing.T) {
	mappings := ServiceMappings{"clearing": {
		"svc-a": {ObjectType: "composite", Namespace: "clearing-ns", SubResources: []string{"pod", "service"}},
	}}
	v := New(fake.NewSimpleClientset(compositeObjects(true, false, false)...), mappings, discardLogger())
	res, err := v.Validate(context.Background(), domain.PillarClearing, "svc-a", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Ready || res.SuccessRate != 0.5 {
		t.Fatalf("expected 1/2 to be ready, got ready=%v rate=%v", res.Ready, res.SuccessRate)
	}
}

func TestValidateCompositeWithoutMembersIsNotReady(t *testing.T) {
	mappings := ServiceMappings{"clearing": {
		"svc-a": {ObjectType: "composite", SubResources: []string{"customresource"}},
	}}
	v := New(fake.NewSimpleClientset(), mappings, discardLogger())
	res, err := v.Validate(context.Background(), domain.PillarClearing, "svc-a", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Ready {
		t.Fatal("expected composite with no members to be not ready")
	}
}

func TestValidateAPIFaultIsQueryError(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.PrependReactor("get", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewInternalError(errors.New("etcd unavailable"))
	})
	v := New(client, nil, discardLogger())
	_, err := v.Validate(context.Background(), domain.PillarRisk, "risk-engine", "risk-ns")
	var qerr *domain.QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qerr.Target != "risk-ns/risk-engine" {
		t.Fatalf("unexpected target %q", qerr.Target)
	}
}

func TestDeploymentLogs(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "risk-engine-abc", Namespace: "default", Labels: map[string]string{"app": "risk-engine"}},
	}
	v := New(fake.NewSimpleClientset(pod), nil, discardLogger())
	logs, err := v.DeploymentLogs(context.Background(), domain.PillarRisk, "risk-engine", "", 10)
	if err != nil {
		t.Fatalf("deployment logs: %v", err)
	}
	if logs.Pod != "risk-engine-abc" || logs.Logs == "" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	if _, err := v.DeploymentLogs(context.Background(), domain.PillarRisk, "missing", "", 10); err == nil {
		t.Fatal("expected error when no pods match")
	}
}
