package cluster

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

const sampleMappings = `
clearing:
  service-a:
    k8s_object_type: customresource
    k8s_object_name: service-a-cr
    namespace: clearing-ns
    sub_resources: [crd, pod, service, ingress]
risk:
  risk-monitor:
    k8s_object_type: job
`

func TestParseMappingsAndResolve(t *testing.T) {
	m, err := ParseMappings([]byte(sampleMappings))
	if err != nil {
		t.Fatalf("parse mappings: %v", err)
	}
	got := m.Resolve(domain.PillarClearing, "service-a", "other")
	want := Target{Kind: KindComposite, Name: "service-a-cr", Namespace: "clearing-ns", SubResources: []SubResourceKind{SubPod, SubService, SubIngress}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected target (-want +got):\n%s", diff)
	}

	job := m.Resolve(domain.PillarRisk, "risk-monitor", "risk-ns")
	if job.Kind != KindJob || job.Name != "risk-monitor" || job.Namespace != "risk-ns" {
		t.Fatalf("unexpected job target %+v", job)
	}

	fallback := m.Resolve(domain.PillarData, "unknown", "")
	if diff := cmp.Diff(Target{Kind: KindDeployment, Name: "unknown", Namespace: DefaultNamespace}, fallback); diff != "" {
		t.Fatalf("unexpected default target (-want +got):\n%s", diff)
	}
}

func TestParseMappingsAcceptsJSON(t *testing.T) {
	m, err := ParseMappings([]byte(`{"data": {"ingest": {"k8s_object_type": "job", "k8s_object_name": "ingest-job", "namespace": "data"}}}`))
	if err != nil {
		t.Fatalf("parse json mappings: %v", err)
	}
	if got := m.Resolve(domain.PillarData, "ingest", ""); got.Name != "ingest-job" || got.Kind != KindJob {
		t.Fatalf("unexpected target %+v", got)
	}
}

func TestParseMappingsRejectsUnknownKind(t *testing.T) {
	if _, err := ParseMappings([]byte("risk:\n  svc:\n    k8s_object_type: replicaset\n")); err == nil {
		t.Fatal("expected unsupported kind error")
	}
}

func TestCompositeDefaultsSubResources(t *testing.T) {
	m := ServiceMappings{"shared": {"auth": {ObjectType: "composite"}}}
	got := m.Resolve(domain.PillarShared, "auth", "")
	if diff := cmp.Diff([]SubResourceKind{SubPod, SubService, SubIngress}, got.SubResources); diff != "" {
		t.Fatalf("unexpected sub resources (-want +got):\n%s", diff)
	}
}

func TestServicesListsPillarServices(t *testing.T) {
	mappings := ServiceMappings{
		"risk": {
			"pricing": {ObjectType: "deployment"},
			"margin":  {ObjectType: "statefulset"},
		},
	}
	got := mappings.Services(domain.PillarRisk)
	if len(got) != 2 || got[0] != "margin" || got[1] != "pricing" {
		t.Fatalf("expected sorted services, got %v", got)
	}
	if mappings.Services(domain.PillarData) != nil {
		t.Fatal("expected nil for unmapped pillar")
	}
}
