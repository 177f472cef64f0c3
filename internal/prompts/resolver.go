package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Resolver resolves prompts with directory overrides.
// Resolution order: override file > Embedded default
type Resolver struct {
	embedded  map[string]EmbeddedPrompt
	overrides map[string]ResolvedPrompt
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewResolver creates a new prompt resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		embedded:  make(map[string]EmbeddedPrompt),
		overrides: make(map[string]ResolvedPrompt),
		logger:    logger,
	}
}

// Register registers an embedded prompt.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// LoadOverrides reads {key}.tmpl files from dir. Files whose key has no
// embedded default are skipped with a warning. A missing dir is not an error.
// Each override must parse as a template.
func (r *Resolver) LoadOverrides(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("prompt override directory not found", "dir", dir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read prompts dir: %w", err)
	}

	loaded := make(map[string]ResolvedPrompt)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmpl") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".tmpl")

		r.mu.RLock()
		_, known := r.embedded[key]
		r.mu.RUnlock()
		if !known {
			r.logger.Warn("ignoring prompt override for unknown key", "file", e.Name())
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read prompt override %s: %w", path, err)
		}
		text := string(data)
		if _, err := parse(key, text); err != nil {
			return 0, fmt.Errorf("prompt override %s: %w", path, err)
		}
		loaded[key] = ResolvedPrompt{
			Key:        key,
			Text:       text,
			Variables:  ExtractVariables(text),
			IsOverride: true,
			Source:     path,
			Hash:       HashText(text),
		}
	}

	r.mu.Lock()
	r.overrides = loaded
	r.mu.Unlock()

	for key, p := range loaded {
		r.logger.Info("loaded prompt override", "key", key, "file", p.Source)
	}
	return len(loaded), nil
}

// Resolve returns the override for key if one is loaded, otherwise the embedded default.
func (r *Resolver) Resolve(key string) (*ResolvedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if o, ok := r.overrides[key]; ok {
		return &o, nil
	}

	embedded, ok := r.embedded[key]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", key)
	}
	return &ResolvedPrompt{
		Key:       key,
		Text:      embedded.Text,
		Variables: embedded.Variables,
		Hash:      embedded.Hash,
	}, nil
}

// GetEmbedded returns the embedded default for a key, ignoring overrides.
func (r *Resolver) GetEmbedded(key string) (*EmbeddedPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.embedded[key]
	return &p, ok
}

// AllEmbedded returns all registered embedded prompts sorted by key.
func (r *Resolver) AllEmbedded() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.embedded))
	for _, p := range r.embedded {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}
