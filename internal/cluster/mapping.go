package cluster

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// DefaultNamespace is used when neither the mapping nor the caller names a namespace.
const DefaultNamespace = "default"

// MappingEntry describes the workload backing one service.
type MappingEntry struct {
	ObjectType   string   `yaml:"k8s_object_type" json:"k8s_object_type"`
	ObjectName   string   `yaml:"k8s_object_name" json:"k8s_object_name"`
	Namespace    string   `yaml:"namespace" json:"namespace"`
	SubResources []string `yaml:"sub_resources" json:"sub_resources"`
}

// ServiceMappings maps pillar -> service -> workload.
type ServiceMappings map[string]map[string]MappingEntry

// Target is a resolved workload reference.
type Target struct {
	Kind         ResourceKind
	Name         string
	Namespace    string
	SubResources []SubResourceKind
}

// Ref converts the target to its persisted form.
func (t Target) Ref() domain.ObjectRef {
	return domain.ObjectRef{Kind: string(t.Kind), Name: t.Name, Namespace: t.Namespace}
}

// LoadMappings reads a YAML (or JSON) mapping file. An empty path yields no mappings.
func LoadMappings(path string) (ServiceMappings, error) {
	if strings.TrimSpace(path) == "" {
		return ServiceMappings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service mappings: %w", err)
	}
	return ParseMappings(data)
}

// ParseMappings decodes and validates mapping content.
func ParseMappings(data []byte) (ServiceMappings, error) {
	var mappings ServiceMappings
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("decode service mappings: %w", err)
	}
	if mappings == nil {
		mappings = ServiceMappings{}
	}
	for pillar, services := range mappings {
		for service, entry := range services {
			if _, err := ParseResourceKind(entry.ObjectType); err != nil {
				return nil, fmt.Errorf("mapping %s/%s: %w", pillar, service, err)
			}
			for _, sub := range entry.SubResources {
				if _, err := ParseSubResourceKind(sub); err != nil {
					return nil, fmt.Errorf("mapping %s/%s: %w", pillar, service, err)
				}
			}
		}
	}
	return mappings, nil
}

// Resolve returns the workload for a service. Unmapped services default to a deployment named
// after the service. The mapping namespace wins over the caller namespace.
func (m ServiceMappings) Resolve(pillar domain.Pillar, service, namespace string) Target {
	target := Target{Kind: KindDeployment, Name: service, Namespace: strings.TrimSpace(namespace)}
	if entry, ok := m[string(pillar)][service]; ok {
		if kind, err := ParseResourceKind(entry.ObjectType); err == nil {
			target.Kind = kind
		}
		if name := strings.TrimSpace(entry.ObjectName); name != "" {
			target.Name = name
		}
		if ns := strings.TrimSpace(entry.Namespace); ns != "" {
			target.Namespace = ns
		}
		for _, raw := range entry.SubResources {
			sub, err := ParseSubResourceKind(raw)
			if err != nil || sub == SubCustomResource {
				continue
			}
			target.SubResources = append(target.SubResources, sub)
		}
	}
	if target.Namespace == "" {
		target.Namespace = DefaultNamespace
	}
	if target.Kind == KindComposite && len(target.SubResources) == 0 {
		if entry, ok := m[string(pillar)][service]; !ok || len(entry.SubResources) == 0 {
			target.SubResources = append([]SubResourceKind(nil), defaultSubResources...)
		}
	}
	return target
}

// Services lists the mapped services of a pillar in name order. A nil result means the pillar
// has no mappings.
func (m ServiceMappings) Services(pillar domain.Pillar) []string {
	services, ok := m[string(pillar)]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
