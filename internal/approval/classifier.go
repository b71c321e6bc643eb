// Package approval drives the approving sub-protocol: it interprets
// free-text approval replies via LLM classification, partitions items into
// approved/rejected/regenerate sets, triggers regeneration, and moves the
// operation state accordingly.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/pkg/models"
)

// Action is the classified intent of an approval reply.
type Action string

const (
	// ActionFullApproval approves every presented item.
	ActionFullApproval Action = "full_approval"

	// ActionPartialApproval approves some items and regenerates the rest.
	ActionPartialApproval Action = "partial_approval"

	// ActionRegenerateAll regenerates every presented item.
	ActionRegenerateAll Action = "regenerate_all"

	// ActionCancel cancels the operation.
	ActionCancel Action = "cancel"

	// ActionAwaitInput means the reply decided nothing.
	ActionAwaitInput Action = "await_input"

	// ActionError aborts the operation.
	ActionError Action = "error"
)

// ErrMalformedClassification is returned when the LLM reply does not
// conform to the classification schema.
var ErrMalformedClassification = errors.New("malformed classification")

// Classification is the strict-JSON result of classifying one reply.
type Classification struct {
	Action Action `json:"action"`

	// ApprovedIndices and RegenerateIndices partition 1..N for
	// partial_approval.
	ApprovedIndices   []int `json:"approved_indices,omitempty"`
	RegenerateIndices []int `json:"regenerate_indices,omitempty"`

	// Rationale is the classifier's short explanation, reused as the
	// clarification text for await_input.
	Rationale string `json:"rationale,omitempty"`
}

const classificationSchema = `{
	"type": "object",
	"required": ["action"],
	"additionalProperties": false,
	"properties": {
		"action": {
			"type": "string",
			"enum": ["full_approval", "partial_approval", "regenerate_all", "cancel", "await_input", "error"]
		},
		"approved_indices": {
			"type": "array",
			"items": {"type": "integer", "minimum": 1}
		},
		"regenerate_indices": {
			"type": "array",
			"items": {"type": "integer", "minimum": 1}
		},
		"rationale": {"type": "string"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("classification.json", classificationSchema)

const classifierSystemPrompt = `You classify a user's reply to a set of numbered drafts awaiting approval.
Respond with strict JSON only, no prose and no markdown fences, conforming to:
{"action": "full_approval|partial_approval|regenerate_all|cancel|await_input|error",
 "approved_indices": [..], "regenerate_indices": [..], "rationale": "short reason"}
Rules:
- full_approval: the user accepts every item.
- partial_approval: the user accepts some items and wants others redone; approved_indices and regenerate_indices must together cover every item exactly once.
- regenerate_all: the user wants every item redone.
- cancel: the user wants to stop the whole operation.
- await_input: the reply does not decide anything.
- error: the reply indicates something is broken beyond recovery.`

// Classifier turns free-text replies into Classifications.
type Classifier struct {
	provider llm.Provider
	model    string
}

// NewClassifier creates a classifier using provider, with model overriding
// the provider default when non-empty.
func NewClassifier(provider llm.Provider, model string) *Classifier {
	return &Classifier{provider: provider, model: model}
}

// Classify asks the LLM to classify reply against the numbered items.
// Schema violations return ErrMalformedClassification.
func (c *Classifier) Classify(ctx context.Context, items []*models.ToolItem, reply string) (*Classification, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "There are %d items awaiting approval:\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item.Content.RawContent)
	}
	fmt.Fprintf(&sb, "\nUser reply: %s", reply)

	raw, err := c.provider.Complete(ctx, []llm.Message{
		{Role: models.RoleUser, Content: sb.String()},
	}, llm.Options{Model: c.model, System: classifierSystemPrompt, Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("classify reply: %w", err)
	}
	return ParseClassification(raw)
}

// ParseClassification parses and schema-validates a classifier reply,
// tolerating markdown fences around the JSON.
func ParseClassification(raw string) (*Classification, error) {
	cleaned := stripFences(raw)

	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}

	var result Classification
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClassification, err)
	}
	return &result, nil
}

// stripFences removes a wrapping markdown code fence, if any.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line.
		if !strings.Contains(trimmed[:idx], "{") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// validatePartition checks that approved and regenerate indices are a
// disjoint cover of 1..n.
func validatePartition(approved, regenerate []int, n int) error {
	seen := make(map[int]bool, n)
	for _, set := range [][]int{approved, regenerate} {
		for _, idx := range set {
			if idx < 1 || idx > n {
				return fmt.Errorf("index %d out of range 1..%d", idx, n)
			}
			if seen[idx] {
				return fmt.Errorf("index %d appears twice", idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != n {
		return fmt.Errorf("indices cover %d of %d items", len(seen), n)
	}
	return nil
}
