package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// UI command names.
const (
	CommandAttach   = "attach"
	CommandResize   = "resize"
	CommandInput    = "input"
	CommandCommand  = "command"
	CommandDetach   = "detach"
	CommandNotify   = "notify"
	CommandSetTitle = "set-title"
	CommandBell     = "bell"
)

func minimum(v float64) *float64 { return &v }

func minLength(v int) *int { return &v }

// gridSize is the schema shared by attach and resize.
func gridSize() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"columns": {Type: "integer", Minimum: minimum(1)},
		"lines":   {Type: "integer", Minimum: minimum(1)},
	}
}

// commandSchemas describes the data each command accepts.
// Commands without an entry accept any data.
func commandSchemas() map[string]*jsonschema.Schema {
	attach := gridSize()
	attach["options"] = &jsonschema.Schema{Type: "object"}

	return map[string]*jsonschema.Schema{
		CommandAttach: {
			Type:       "object",
			Properties: attach,
			Required:   []string{"columns", "lines"},
		},
		CommandResize: {
			Type:       "object",
			Properties: gridSize(),
			Required:   []string{"columns", "lines"},
		},
		CommandInput:    {Type: "string"},
		CommandCommand:  {Type: "string"},
		CommandSetTitle: {Type: "string"},
		CommandNotify: {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"method": {Type: "string", MinLength: minLength(1)},
				"params": {Type: "array"},
			},
			Required: []string{"method"},
		},
	}
}

// validator checks command data against the resolved schemas.
type validator struct {
	resolved map[string]*jsonschema.Resolved
}

func newValidator() (*validator, error) {
	schemas := commandSchemas()
	v := &validator{resolved: make(map[string]*jsonschema.Resolved, len(schemas))}

	for name, schema := range schemas {
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve %s schema: %w", name, err)
		}

		v.resolved[name] = resolved
	}

	return v, nil
}

// validate decodes raw command data and checks it against the command schema.
func (v *validator) validate(command string, raw json.RawMessage) error {
	resolved, ok := v.resolved[command]
	if !ok {
		return nil
	}

	var instance any

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &instance); err != nil {
			return err
		}
	}

	return resolved.Validate(instance)
}
