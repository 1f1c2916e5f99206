// Package semantic maps business terms to tables, columns and metrics
// through MDL-style model definitions loaded from configuration.
package semantic

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DanielHyeon/pms-ic-sub000/internal/schema"
)

// Column is either a physical column reference or a calculated expression.
type Column struct {
	Name       string `yaml:"name" json:"name"`
	Type       string `yaml:"type" json:"type"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// IsCalculated reports whether the column is expression-defined.
func (c Column) IsCalculated() bool { return c.Expression != "" }

// Model is a named logical view over one table.
type Model struct {
	Name        string   `yaml:"name" json:"name"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	Description string   `yaml:"description" json:"description"`
	Table       string   `yaml:"table" json:"table"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

// Relationship declares a join between two models.
type Relationship struct {
	Name        string `yaml:"name" json:"name"`
	Source      string `yaml:"source" json:"source"`
	Target      string `yaml:"target" json:"target"`
	JoinOn      string `yaml:"join_on" json:"join_on"`
	Cardinality string `yaml:"cardinality" json:"cardinality"`

	// Triggers auto-include both sides when a question mentions one of
	// these words (e.g. "assignee" pulls in the user join).
	Triggers []string `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// Metric is a named measure over a base model.
type Metric struct {
	Name       string   `yaml:"name" json:"name"`
	BaseModel  string   `yaml:"base_model" json:"base_model"`
	Expression string   `yaml:"expression" json:"expression"`
	Dimensions []string `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	TimeGrain  string   `yaml:"time_grain,omitempty" json:"time_grain,omitempty"`
}

// MDL is the full semantic definition document.
type MDL struct {
	Models        []Model        `yaml:"models"`
	Relationships []Relationship `yaml:"relationships"`
	Metrics       []Metric       `yaml:"metrics"`
}

// ParseMDL decodes an MDL document.
func ParseMDL(data []byte) (*MDL, error) {
	var mdl MDL
	if err := yaml.Unmarshal(data, &mdl); err != nil {
		return nil, fmt.Errorf("parse MDL: %w", err)
	}
	if err := mdl.validateInternal(); err != nil {
		return nil, err
	}
	return &mdl, nil
}

// LoadMDL reads and parses an MDL file.
func LoadMDL(path string) (*MDL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read MDL: %w", err)
	}
	return ParseMDL(data)
}

// validateInternal checks self-consistency: relationship endpoints and metric
// base models must name declared models.
func (m *MDL) validateInternal() error {
	names := make(map[string]bool, len(m.Models))
	for _, model := range m.Models {
		if model.Name == "" {
			return fmt.Errorf("model with empty name")
		}
		if names[model.Name] {
			return fmt.Errorf("duplicate model %q", model.Name)
		}
		names[model.Name] = true
	}
	for _, rel := range m.Relationships {
		if !names[rel.Source] {
			return fmt.Errorf("relationship %q: unknown source model %q", rel.Name, rel.Source)
		}
		if !names[rel.Target] {
			return fmt.Errorf("relationship %q: unknown target model %q", rel.Name, rel.Target)
		}
	}
	for _, metric := range m.Metrics {
		if !names[metric.BaseModel] {
			return fmt.Errorf("metric %q: unknown base model %q", metric.Name, metric.BaseModel)
		}
	}
	return nil
}

// ValidateAgainstCatalog checks that every physical column reference exists
// in the relational catalog.
func (m *MDL) ValidateAgainstCatalog(tables map[string]schema.TableInfo) error {
	for _, model := range m.Models {
		info, ok := tables[strings.ToLower(model.Table)]
		if !ok {
			return fmt.Errorf("model %q: table %q not in catalog", model.Name, model.Table)
		}
		for _, col := range model.Columns {
			if col.IsCalculated() {
				continue
			}
			if !info.HasColumn(col.Name) {
				return fmt.Errorf("model %q: column %q not in table %q", model.Name, col.Name, model.Table)
			}
		}
	}
	return nil
}
