// Package queryset defines the scripted queries a session runs and loads them
// from YAML files or built-in sets.
package queryset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gopkg.in/yaml.v3"
)

const idLength = 10

var (
	ErrEmptyQuery  = errors.New("query text is empty")
	ErrUnknownSet  = errors.New("unknown built-in query set")
	ErrDuplicateID = errors.New("duplicate query id")
)

// QuerySpec is one natural-language query plus a label for reporting.
type QuerySpec struct {
	ID          string `yaml:"id,omitempty" json:"id"`
	Description string `yaml:"description" json:"description"`
	Text        string `yaml:"text" json:"text"`
}

// Set is a named, ordered list of queries.
type Set struct {
	Name    string      `yaml:"name"`
	Queries []QuerySpec `yaml:"queries"`
}

// TemplateData is what query text templates can reference.
type TemplateData struct {
	Contracts map[string]string
	Addresses map[string]string
}

// LoadFile reads a query set from a YAML file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query set: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse decodes a query set. Queries without an id get a generated one.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse query set: %w", err)
	}
	if err := set.normalize(); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *Set) normalize() error {
	seen := make(map[string]bool, len(s.Queries))
	for i := range s.Queries {
		q := &s.Queries[i]
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("query %d: %w", i+1, ErrEmptyQuery)
		}
		if q.ID == "" {
			id, err := gonanoid.New(idLength)
			if err != nil {
				return fmt.Errorf("failed to generate query id: %w", err)
			}
			q.ID = id
		}
		if seen[q.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, q.ID)
		}
		seen[q.ID] = true
		if q.Description == "" {
			q.Description = q.ID
		}
	}
	return nil
}

// Render expands templates in every query text. A reference to a contract or
// address that is not configured is an error.
func (s *Set) Render(data TemplateData) ([]QuerySpec, error) {
	out := make([]QuerySpec, 0, len(s.Queries))
	for _, q := range s.Queries {
		text, err := renderText(q.ID, q.Text, data)
		if err != nil {
			return nil, err
		}
		q.Text = text
		out = append(out, q)
	}
	return out, nil
}

func renderText(name, text string, data TemplateData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("query %s: invalid template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return buf.String(), nil
}

// Single wraps an ad-hoc query.
func Single(text string) (QuerySpec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return QuerySpec{}, ErrEmptyQuery
	}
	return QuerySpec{ID: "single", Description: "Single query", Text: text}, nil
}
