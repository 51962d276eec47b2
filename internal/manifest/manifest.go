// Package manifest parses and validates batch deployment manifests.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

//go:embed schema.json
var schemaJSON []byte

// Info describes the manifest itself.
type Info struct {
	Name        string `yaml:"name" json:"name,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	Author      string `yaml:"author" json:"author,omitempty"`
	Created     string `yaml:"created" json:"created,omitempty"`
}

// Defaults fill fields omitted by individual entries.
type Defaults struct {
	EnvironmentID    string `yaml:"environment_id" json:"environment_id,omitempty"`
	InfrastructureID string `yaml:"infrastructure_id" json:"infrastructure_id,omitempty"`
	ArtifactType     string `yaml:"docker_artifact_type" json:"docker_artifact_type,omitempty"`
}

// Entry is one requested deployment as written in the manifest.
type Entry struct {
	Pillar           string          `yaml:"pillar" json:"pillar"`
	ServiceName      string          `yaml:"service_name" json:"service_name"`
	ArtifactType     string          `yaml:"docker_artifact_type" json:"docker_artifact_type"`
	ImageVersion     string          `yaml:"docker_image_version" json:"docker_image_version"`
	EnvironmentID    string          `yaml:"environment_id" json:"environment_id"`
	InfrastructureID string          `yaml:"infrastructure_id" json:"infrastructure_id"`
	Metadata         domain.Metadata `yaml:"metadata" json:"metadata"`
}

// Manifest is a validated batch description.
type Manifest struct {
	Version     string   `yaml:"version" json:"version"`
	Info        Info     `yaml:"metadata" json:"metadata"`
	Defaults    Defaults `yaml:"defaults" json:"defaults"`
	Deployments []Entry  `yaml:"deployments" json:"deployments"`
}

// Catalog lists the services known for a pillar. A nil result skips the check for that pillar.
type Catalog interface {
	Services(pillar domain.Pillar) []string
}

// Parser validates manifests against the document schema and the batch rules.
type Parser struct {
	schema  *openapi3.Schema
	catalog Catalog
}

// NewParser compiles the manifest schema. catalog may be nil.
func NewParser(catalog Catalog) (*Parser, error) {
	schema := &openapi3.Schema{}
	if err := json.Unmarshal(schemaJSON, schema); err != nil {
		return nil, fmt.Errorf("load manifest schema: %w", err)
	}
	return &Parser{schema: schema, catalog: catalog}, nil
}

// Parse decodes YAML (or JSON) content. Every problem found is reported in a *ValidationError.
func (p *Parser) Parse(data []byte) (*Manifest, error) {
	verr := &ValidationError{}
	if len(bytes.TrimSpace(data)) == 0 {
		verr.Add("", "manifest is empty")
		return nil, verr
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		verr.Add("", "yaml parsing error: %v", err)
		return nil, verr
	}
	if raw == nil {
		verr.Add("", "manifest is empty")
		return nil, verr
	}
	doc, err := toJSONValue(raw)
	if err != nil {
		verr.Add("", "unsupported manifest content: %v", err)
		return nil, verr
	}
	p.checkSchema(doc, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		verr.Add("", "decode manifest: %v", err)
		return nil, verr
	}
	m.applyDefaults()
	p.checkRules(&m, verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &m, nil
}

// toJSONValue converts decoded YAML into the value shapes encoding/json produces.
func toJSONValue(v any) (any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) checkSchema(doc any, verr *ValidationError) {
	err := p.schema.VisitJSON(doc, openapi3.MultiErrors())
	if err == nil {
		return
	}
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			addSchemaIssue(e, verr)
		}
		return
	}
	addSchemaIssue(err, verr)
}

func addSchemaIssue(err error, verr *ValidationError) {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			addSchemaIssue(e, verr)
		}
		return
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		pointer := se.JSONPointer()
		path := ""
		if len(pointer) > 0 {
			path = "/" + strings.Join(pointer, "/")
		}
		verr.Add(path, "%s", se.Reason)
		return
	}
	verr.Add("", "%v", err)
}

func (m *Manifest) applyDefaults() {
	for i := range m.Deployments {
		e := &m.Deployments[i]
		e.Pillar = strings.ToLower(strings.TrimSpace(e.Pillar))
		if e.ArtifactType == "" {
			e.ArtifactType = m.Defaults.ArtifactType
		}
		e.ArtifactType = strings.ToLower(e.ArtifactType)
		if e.EnvironmentID == "" {
			e.EnvironmentID = m.Defaults.EnvironmentID
		}
		if e.InfrastructureID == "" {
			e.InfrastructureID = m.Defaults.InfrastructureID
		}
	}
}

func (p *Parser) checkRules(m *Manifest, verr *ValidationError) {
	seen := make(map[string]int, len(m.Deployments))
	names := make(map[string]struct{}, len(m.Deployments))
	for _, e := range m.Deployments {
		names[e.ServiceName] = struct{}{}
	}
	for i, e := range m.Deployments {
		path := fmt.Sprintf("/deployments/%d", i)
		key := e.Pillar + "/" + e.ServiceName
		if prev, ok := seen[key]; ok {
			verr.Add(path, "duplicate deployment for %s (previously at index %d)", key, prev)
		} else {
			seen[key] = i
		}
		if e.ArtifactType == "" {
			verr.Add(path+"/docker_artifact_type", "docker_artifact_type is required when defaults do not provide one")
		}
		if e.EnvironmentID == "" {
			verr.Add(path+"/environment_id", "environment_id is required when defaults do not provide one")
		}
		if e.InfrastructureID == "" {
			verr.Add(path+"/infrastructure_id", "infrastructure_id is required when defaults do not provide one")
		}
		for _, dep := range e.Metadata.Dependencies {
			if _, ok := names[dep]; !ok {
				verr.Add(path+"/metadata/dependencies", "dependency %q not found in deployment list", dep)
			}
		}
		if p.catalog != nil {
			known := p.catalog.Services(domain.Pillar(e.Pillar))
			if known != nil && !contains(known, e.ServiceName) {
				verr.Add(path+"/service_name", "service %q not found in pillar %q, available: %s", e.ServiceName, e.Pillar, strings.Join(known, ", "))
			}
		}
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Requests converts the entries into deployment requests in manifest order.
func (m *Manifest) Requests() []domain.DeploymentRequest {
	out := make([]domain.DeploymentRequest, 0, len(m.Deployments))
	for _, e := range m.Deployments {
		out = append(out, domain.DeploymentRequest{
			Pillar:           domain.Pillar(e.Pillar),
			ServiceName:      e.ServiceName,
			ArtifactType:     domain.ArtifactType(e.ArtifactType),
			ArtifactVersion:  e.ImageVersion,
			EnvironmentID:    e.EnvironmentID,
			InfrastructureID: e.InfrastructureID,
			Metadata:         e.Metadata,
		})
	}
	return out
}
