package persona

import (
	"os"
	"strings"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"gopkg.in/yaml.v3"
)

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads personas from a YAML document with a top-level
// "personas" list. Missing ids are derived from the normalized name so
// reloading the same file yields the same ids.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.New(cerrors.CodeStoreError, "read personas file", err).WithContext("path", path)
	}
	var doc personaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "parse personas file", err).WithContext("path", path)
	}
	seen := make(map[string]bool, len(doc.Personas))
	for i := range doc.Personas {
		p := &doc.Personas[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, cerrors.InvalidInput("persona name is required").
				WithContext("path", path).
				WithContext("index", i)
		}
		if seen[p.Key()] {
			return nil, cerrors.InvalidInput("duplicate persona name").WithContext("persona", p.Name)
		}
		seen[p.Key()] = true
		if p.ID == "" {
			p.ID = strings.ReplaceAll(p.Key(), " ", "-")
		}
	}
	return doc.Personas, nil
}
