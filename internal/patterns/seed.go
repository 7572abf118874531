// Package patterns loads the seed pattern library from YAML and installs it
// into the pattern store on first boot.
package patterns

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

// defaultSeedConfidence is the starting confidence of a seeded pattern that
// does not set its own.
const defaultSeedConfidence = 0.5

type seedFile struct {
	Patterns []seedPattern `yaml:"patterns"`
}

type seedPattern struct {
	Name        string     `yaml:"name"`
	Category    string     `yaml:"category"`
	Description string     `yaml:"description"`
	Confidence  *float64   `yaml:"confidence"`
	Roles       []seedRole `yaml:"roles"`
}

type seedRole struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	NameRules     []string `yaml:"name_rules"`
	MinValue      *float64 `yaml:"min_value"`
	MaxValue      *float64 `yaml:"max_value"`
	Units         string   `yaml:"units"`
	TypicalRateHz *float64 `yaml:"typical_rate_hz"`
	Required      bool     `yaml:"required"`
}

// LoadFile parses a seed library from a YAML file.
func LoadFile(path string) ([]*models.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) ([]*models.Pattern, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	now := time.Now().UTC()
	out := make([]*models.Pattern, 0, len(file.Patterns))
	seen := map[string]bool{}
	for i, sp := range file.Patterns {
		if sp.Name == "" {
			return nil, fmt.Errorf("pattern %d: name is required", i)
		}
		if seen[sp.Name] {
			return nil, fmt.Errorf("pattern %q: duplicate name", sp.Name)
		}
		seen[sp.Name] = true
		if sp.Category == "" {
			return nil, fmt.Errorf("pattern %q: category is required", sp.Name)
		}
		if len(sp.Roles) == 0 {
			return nil, fmt.Errorf("pattern %q: at least one role is required", sp.Name)
		}

		confidence := defaultSeedConfidence
		if sp.Confidence != nil {
			confidence = *sp.Confidence
			if confidence < 0 || confidence > 1 {
				return nil, fmt.Errorf("pattern %q: confidence must be within [0,1]", sp.Name)
			}
		}

		roles := make([]models.PatternRole, len(sp.Roles))
		for j, sr := range sp.Roles {
			if sr.Name == "" {
				return nil, fmt.Errorf("pattern %q role %d: name is required", sp.Name, j)
			}
			if len(sr.NameRules) == 0 {
				return nil, fmt.Errorf("pattern %q role %q: name_rules is required", sp.Name, sr.Name)
			}
			if sr.MinValue != nil && sr.MaxValue != nil && *sr.MinValue > *sr.MaxValue {
				return nil, fmt.Errorf("pattern %q role %q: min_value exceeds max_value", sp.Name, sr.Name)
			}
			roles[j] = models.PatternRole{
				Name:          sr.Name,
				Description:   sr.Description,
				NameRules:     sr.NameRules,
				MinValue:      sr.MinValue,
				MaxValue:      sr.MaxValue,
				Units:         sr.Units,
				TypicalRateHz: sr.TypicalRateHz,
				Required:      sr.Required,
			}
		}

		out = append(out, &models.Pattern{
			ID:           uuid.NewString(),
			Name:         sp.Name,
			Category:     sp.Category,
			Description:  sp.Description,
			Confidence:   confidence,
			SystemSeeded: true,
			CreatedAt:    now,
			Roles:        roles,
		})
	}
	return out, nil
}

// Seed installs the given patterns, skipping names already in the store.
// Returns how many patterns were created.
func Seed(ctx context.Context, store repository.PatternStore, seeds []*models.Pattern, log *logging.Logger) (int, error) {
	existing, err := store.ListPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list existing patterns: %w", err)
	}
	byName := make(map[string]bool, len(existing))
	for _, p := range existing {
		byName[p.Name] = true
	}

	var created int
	for _, p := range seeds {
		if byName[p.Name] {
			log.DebugContext(ctx, "seed pattern already installed", "name", p.Name)
			continue
		}
		if err := store.CreatePattern(ctx, p); err != nil {
			return created, fmt.Errorf("failed to create seed pattern %q: %w", p.Name, err)
		}
		created++
		log.InfoContext(ctx, "seed pattern installed", "name", p.Name, "roles", len(p.Roles))
	}
	return created, nil
}
