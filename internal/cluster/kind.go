package cluster

import (
	"fmt"
	"strings"
)

// ResourceKind is the closed set of workload kinds the validator understands.
type ResourceKind string

// Supported workload kinds.
const (
	KindDeployment  ResourceKind = "deployment"
	KindStatefulSet ResourceKind = "statefulset"
	KindDaemonSet   ResourceKind = "daemonset"
	KindJob         ResourceKind = "job"
	KindCronJob     ResourceKind = "cronjob"
	KindPod         ResourceKind = "pod"
	KindComposite   ResourceKind = "composite"
)

// ParseResourceKind accepts the kind names used in service mappings, case and separator
// insensitive. An empty value means deployment.
func ParseResourceKind(value string) (ResourceKind, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case "", "deployment":
		return KindDeployment, nil
	case "statefulset":
		return KindStatefulSet, nil
	case "daemonset":
		return KindDaemonSet, nil
	case "job":
		return KindJob, nil
	case "cronjob":
		return KindCronJob, nil
	case "pod":
		return KindPod, nil
	case "composite", "customresource", "crd":
		return KindComposite, nil
	default:
		return "", fmt.Errorf("unsupported resource kind %q", value)
	}
}

// SubResourceKind is a member of a composite workload.
type SubResourceKind string

// Composite members. SubCustomResource marks the custom resource itself and is never validated.
const (
	SubPod            SubResourceKind = "pod"
	SubService        SubResourceKind = "service"
	SubIngress        SubResourceKind = "ingress"
	SubCustomResource SubResourceKind = "customresource"
)

var defaultSubResources = []SubResourceKind{SubPod, SubService, SubIngress}

// ParseSubResourceKind maps a mapping value to a SubResourceKind.
func ParseSubResourceKind(value string) (SubResourceKind, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case "pod":
		return SubPod, nil
	case "service":
		return SubService, nil
	case "ingress":
		return SubIngress, nil
	case "customresource", "crd":
		return SubCustomResource, nil
	default:
		return "", fmt.Errorf("unsupported sub-resource kind %q", value)
	}
}
