package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Tool is the interface every capability exposed to the decision service implements.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Param declares one argument of a tool.
type Param struct {
	Name        string
	Type        string // JSON Schema type: string, integer, number, boolean, array, object
	Description string
	Required    bool
	Default     any
	ItemsType   string // element type when Type is "array"
}

// Schema renders the tool's parameters as a JSON Schema object.
func Schema(t Tool) map[string]any {
	properties := make(map[string]any)
	required := []string{}
	for _, p := range t.Params() {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			items := p.ItemsType
			if items == "" {
				items = "string"
			}
			prop["items"] = map[string]any{"type": items}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Validate checks args against the tool's required parameters.
func Validate(t Tool, args map[string]any) error {
	for _, p := range t.Params() {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return fmt.Errorf("Missing required parameter: %s", p.Name)
		}
	}
	return nil
}

// Run executes t with declared defaults applied to args. It does not validate.
func Run(ctx context.Context, t Tool, args map[string]any) (*Result, error) {
	return t.Execute(ctx, withDefaults(t, args))
}

// withDefaults returns a copy of args with declared defaults filled in.
func withDefaults(t Tool, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range t.Params() {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

func getString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func getInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func getStringSlice(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
