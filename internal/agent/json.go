package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput is returned when the decision service does not
// produce the JSON a role asked for.
var ErrMalformedOutput = errors.New("malformed decision output")

const jsonOnly = "\n\nRespond only with valid JSON."

// Ask makes a single decision call without tools and returns the text.
func (a *Agent) Ask(ctx context.Context, in Instruction) (string, error) {
	out, err := a.Invoke(ctx, in, nil)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// CallJSON asks for a JSON answer and decodes it into v.
func (a *Agent) CallJSON(ctx context.Context, in Instruction, v any) error {
	in.Prompt += jsonOnly
	text, err := a.Ask(ctx, in)
	if err != nil {
		return err
	}
	return DecodeJSON(text, v)
}

// DecodeJSON strips Markdown code fences from text and decodes it into v.
func DecodeJSON(text string, v any) error {
	s := StripFences(text)
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// StripFences removes a surrounding ``` or ```json fence.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
