package tool

import (
	"encoding/json"
	"fmt"
)

// Status is the outcome class of a tool execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
)

// Result is the uniform outcome of one tool execution. It is not mutated
// after the tool returns it.
//
// Exhausted marks a result synthesized after every retry failed; the
// transcript text then carries the critical-failure sentinel.
type Result struct {
	Status    Status         `json:"status"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
}

// Success returns a successful result carrying output.
func Success(output any) *Result {
	return &Result{Status: StatusSuccess, Output: output}
}

// Errorf returns an error result with a formatted message.
func Errorf(format string, args ...any) *Result {
	return &Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// Partial returns a result for work that ran but did not fully succeed.
func Partial(output any, errText string) *Result {
	return &Result{Status: StatusPartial, Output: output, Error: errText}
}

// OK reports whether the result is a success.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// WithMeta sets a metadata key and returns r.
func (r *Result) WithMeta(key string, value any) *Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Text renders the result the way the decision service sees it.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if r.Exhausted {
		return r.Error
	}
	if r.Status == StatusError {
		return "Error: " + r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
