package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	skillFile         = "SKILL.md"
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// LoadDir scans a directory for skill subdirectories with SKILL.md.
// Results are ordered by directory name.
func LoadDir(root string) ([]Skill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), skillFile)
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		skill, err := LoadFile(skillPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		out = append(out, skill)
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Skill{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Skill{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	allowed, err := normalizeList(parsed.AllowedTools, "allowed-tools")
	if err != nil {
		return Skill{}, err
	}
	tags, err := normalizeList(parsed.Tags, "tags")
	if err != nil {
		return Skill{}, err
	}
	scope, err := normalizeList(parsed.Personas, "personas")
	if err != nil {
		return Skill{}, err
	}

	dir := filepath.Dir(path)
	skill := Skill{
		ID:           strings.TrimSpace(parsed.Name),
		Name:         strings.TrimSpace(parsed.Name),
		Description:  strings.TrimSpace(parsed.Description),
		WhenToUse:    strings.TrimSpace(parsed.WhenToUse),
		Category:     strings.TrimSpace(parsed.Category),
		Tags:         tags,
		Trigger:      strings.TrimSpace(parsed.Trigger),
		Body:         strings.TrimSpace(body),
		Scope:        scope,
		SortOrder:    parsed.SortOrder,
		Version:      parsed.Version,
		AllowedTools: allowed,
		Dir:          dir,
	}
	if skill.Version == 0 {
		skill.Version = 1
	}
	if err := validate(skill); err != nil {
		return Skill{}, err
	}
	return skill, nil
}

type frontmatter struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	WhenToUse    string `yaml:"when_to_use"`
	Category     string `yaml:"category"`
	Tags         any    `yaml:"tags"`
	Trigger      string `yaml:"trigger"`
	Personas     any    `yaml:"personas"`
	SortOrder    int    `yaml:"sort_order"`
	Version      int    `yaml:"version"`
	AllowedTools any    `yaml:"allowed-tools"`
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func validate(s Skill) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(s.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if dirName := filepath.Base(s.Dir); dirName != s.Name {
		return fmt.Errorf("name must match directory name (%s)", dirName)
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(s.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	if s.Body == "" {
		return errors.New("body is required")
	}
	return nil
}

// normalizeList accepts either a space separated string or a YAML list.
func normalizeList(value any, field string) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return dedupe(strings.Fields(sanitizeAllowed(v))), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be string list", field)
			}
			out = append(out, sanitizeAllowed(strings.TrimSpace(str)))
		}
		return dedupe(out), nil
	default:
		return nil, fmt.Errorf("%s must be string or list", field)
	}
}

// sanitizeAllowed tightens "Bash(pdf: *)" style patterns so they survive
// whitespace splitting.
func sanitizeAllowed(input string) string {
	replacer := strings.NewReplacer(
		"( ", "(",
		" )", ")",
		": ", ":",
		" :", ":",
	)
	return replacer.Replace(input)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
