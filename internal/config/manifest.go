package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"graph-indexer/internal/sqlutil"
)

// Manifest describes one indexer: where its schema lives, which blocks it
// covers, and which endpoints supply blocks and run its handler.
type Manifest struct {
	Namespace     string  `yaml:"namespace"`
	Identifier    string  `yaml:"identifier"`
	GraphQLSchema string  `yaml:"graphql_schema"`
	StartBlock    *uint64 `yaml:"start_block,omitempty"`
	EndBlock      *uint64 `yaml:"end_block,omitempty"`
	NodeURL       string  `yaml:"node_url"`
	HandlerURL    string  `yaml:"handler_url"`
	Resumable     *bool   `yaml:"resumable,omitempty"`

	// path is the file the manifest was read from; relative schema paths resolve against it.
	path string
}

// LoadManifest reads and validates a YAML indexer manifest.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", path, err)
	}
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: %w", path, err)
	}
	m.path = path
	return m, nil
}

// ParseManifest decodes manifest YAML, rejecting unknown keys.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields every indexer needs.
func (m *Manifest) Validate() error {
	result := &ValidationResult{}
	if !sqlutil.IsIdentifier(m.Namespace) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "namespace",
			Message: fmt.Sprintf("invalid namespace %q", m.Namespace),
			Hint:    "use lowercase letters, digits and underscores",
		})
	}
	if !sqlutil.IsIdentifier(m.Identifier) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "identifier",
			Message: fmt.Sprintf("invalid identifier %q", m.Identifier),
			Hint:    "use lowercase letters, digits and underscores",
		})
	}
	if strings.TrimSpace(m.GraphQLSchema) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "graphql_schema",
			Message: "schema path is required",
		})
	}
	if m.StartBlock != nil && m.EndBlock != nil && *m.EndBlock < *m.StartBlock {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "end_block",
			Message: fmt.Sprintf("end_block %d is before start_block %d", *m.EndBlock, *m.StartBlock),
		})
	}
	if result.HasErrors() {
		return fmt.Errorf("invalid manifest: %s", result.Error())
	}
	return nil
}

// UID is the namespace-qualified indexer name used in logs and metrics.
func (m *Manifest) UID() string {
	return m.Namespace + "." + m.Identifier
}

// IsResumable reports whether the executor should continue from the last
// committed block rather than start_block. Defaults to true.
func (m *Manifest) IsResumable() bool {
	return m.Resumable == nil || *m.Resumable
}

// Start returns the first block to index (defaults to 1).
func (m *Manifest) Start() uint64 {
	if m.StartBlock == nil || *m.StartBlock == 0 {
		return 1
	}
	return *m.StartBlock
}

// SchemaPath resolves the GraphQL schema path relative to the manifest file.
func (m *Manifest) SchemaPath() string {
	if filepath.IsAbs(m.GraphQLSchema) || m.path == "" {
		return m.GraphQLSchema
	}
	return filepath.Join(filepath.Dir(m.path), m.GraphQLSchema)
}

// ReadSchema loads the raw GraphQL schema text.
func (m *Manifest) ReadSchema() (string, error) {
	raw, err := os.ReadFile(m.SchemaPath())
	if err != nil {
		return "", fmt.Errorf("failed to read schema for %s: %w", m.UID(), err)
	}
	return string(raw), nil
}
