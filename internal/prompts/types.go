// Package prompts provides per-category extraction prompts with embedded
// defaults and file-based overrides.
//
// Resolution order for a prompt key:
//  1. Override file {key}.tmpl in the configured prompts directory
//  2. Embedded default (from templates/*.tmpl)
//
// Keys are "{category}.system" and "{category}.user".
package prompts

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // {category}.system or {category}.user
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// ResolvedPrompt is the result of resolving a prompt key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"`
	Source     string   `json:"source,omitempty"` // override file path
	Hash       string   `json:"hash"`
}

// SystemKey returns the system prompt key for a category.
func SystemKey(category string) string { return category + ".system" }

// UserKey returns the user prompt key for a category.
func UserKey(category string) string { return category + ".user" }
