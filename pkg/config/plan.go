// pkg/config/plan.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// LoadPlan returns the default stage plan, overridden stage-by-stage by the
// YAML mapping file when path is non-empty. Entities named in legacyLink are
// switched to legacy-linking mode.
func LoadPlan(path string, legacyLink []string) (model.Plan, error) {
	plan := model.DefaultPlan()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return model.Plan{}, fmt.Errorf("failed to read mapping file: %w", err)
		}
		if err := mergePlan(&plan, data); err != nil {
			return model.Plan{}, err
		}
	}

	for _, name := range legacyLink {
		stage, ok := plan.Stage(model.EntityType(name))
		if !ok {
			return model.Plan{}, fmt.Errorf("legacy link requested for unknown entity %q", name)
		}
		stage.LegacyLink = true
	}

	if err := plan.Validate(); err != nil {
		return model.Plan{}, fmt.Errorf("invalid stage plan: %w", err)
	}
	return plan, nil
}

// mergePlan replaces default stages and links with same-named overrides
func mergePlan(plan *model.Plan, data []byte) error {
	var override model.Plan
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("failed to parse mapping file: %w", err)
	}

	for _, stage := range override.Stages {
		if existing, ok := plan.Stage(stage.Entity); ok {
			*existing = stage
			continue
		}
		return fmt.Errorf("mapping file names unknown stage %q", stage.Entity)
	}

	for _, link := range override.Links {
		replaced := false
		for i := range plan.Links {
			if plan.Links[i].Name == link.Name {
				plan.Links[i] = link
				replaced = true
				break
			}
		}
		if !replaced {
			plan.Links = append(plan.Links, link)
		}
	}
	return nil
}
