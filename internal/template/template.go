// Package template stores prompt templates and selects the best match for a
// request. Rendering is a whitelist substitution pass: placeholders without a
// bound value stay in the output as literal text.
package template

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Wildcard matches any model id.
const Wildcard = "*"

type Template struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Text      string    `json:"template_text"`
	Variables []string  `json:"variable_names"`
	ModelID   string    `json:"applicable_model_id"`
	Language  string    `json:"applicable_language,omitempty"`
	TaskType  string    `json:"applicable_task_type,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// Validate enforces the template's variable contract: every placeholder
// referenced in the text must be declared. Declared-but-unused variables are
// allowed. Violations surface at write time, never during a request.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if t.Text == "" {
		return fmt.Errorf("template text is required")
	}
	if t.ModelID == "" {
		return fmt.Errorf("applicable_model_id is required (use %q for any model)", Wildcard)
	}
	for _, ref := range ExtractVariables(t.Text) {
		if !slices.Contains(t.Variables, ref) {
			return fmt.Errorf("template references undeclared variable %q", ref)
		}
	}
	return nil
}

// Matches reports whether the template applies to the given request
// attributes. A constraint matches when it is unset or equal.
func (t *Template) Matches(model, language, taskType string) bool {
	if t.ModelID != Wildcard && t.ModelID != model {
		return false
	}
	if t.Language != "" && t.Language != language {
		return false
	}
	if t.TaskType != "" && t.TaskType != taskType {
		return false
	}
	return true
}

// ExtractVariables returns the distinct placeholder names referenced in text,
// in order of first appearance.
func ExtractVariables(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		if !seen[m[1]] {
			vars = append(vars, m[1])
			seen[m[1]] = true
		}
	}
	return vars
}

// Render substitutes bound placeholders in text. Placeholders without a
// value in vars are left as literal text; nothing is ever evaluated.
func Render(text string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1 : len(match)-1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}
