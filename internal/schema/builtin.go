package schema

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"openflow/internal/model"
)

//go:embed schemas/*.json
var builtin embed.FS

// Authoring validates what form authors store: step lists and integration
// configs.
type Authoring struct {
	compiler *Compiler
	steps    map[string]interface{}
	configs  map[model.IntegrationType]map[string]interface{}
}

func NewAuthoring(compiler *Compiler) (*Authoring, error) {
	a := &Authoring{
		compiler: compiler,
		configs:  make(map[model.IntegrationType]map[string]interface{}),
	}

	var err error
	if a.steps, err = load("steps"); err != nil {
		return nil, err
	}
	for _, t := range []model.IntegrationType{model.IntegrationWebhook, model.IntegrationEmail, model.IntegrationGoogleSheets} {
		s, err := load(string(t))
		if err != nil {
			return nil, err
		}
		a.configs[t] = s
	}

	ctx := context.Background()
	if err := compiler.Prepare(ctx, a.steps); err != nil {
		return nil, fmt.Errorf("steps schema: %w", err)
	}
	for t, s := range a.configs {
		if err := compiler.Prepare(ctx, s); err != nil {
			return nil, fmt.Errorf("%s schema: %w", t, err)
		}
	}
	return a, nil
}

func load(name string) (map[string]interface{}, error) {
	b, err := builtin.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s schema: %w", name, err)
	}
	var s map[string]interface{}
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s schema: %w", name, err)
	}
	return s, nil
}

// ValidateSteps checks the shape of an authored step list.
func (a *Authoring) ValidateSteps(ctx context.Context, steps []model.Step) error {
	if steps == nil {
		steps = []model.Step{}
	}
	return a.compiler.Validate(ctx, a.steps, steps)
}

// ValidateConfig checks the config of an integration of type t.
func (a *Authoring) ValidateConfig(ctx context.Context, t model.IntegrationType, config map[string]interface{}) error {
	s, ok := a.configs[t]
	if !ok {
		return fmt.Errorf("unsupported integration type: %s", t)
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	return a.compiler.Validate(ctx, s, config)
}
