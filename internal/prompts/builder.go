package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// CustomInstructionsHeader introduces caller-supplied instructions in the user prompt.
const CustomInstructionsHeader = "CUSTOM EXTRACTION INSTRUCTIONS:"

// RegisterDefaults registers every embedded template with the resolver.
func RegisterDefaults(r *Resolver) error {
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return fmt.Errorf("read embedded templates: %w", err)
	}
	for _, e := range entries {
		data, err := templateFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			return fmt.Errorf("read embedded template %s: %w", e.Name(), err)
		}
		key := strings.TrimSuffix(e.Name(), ".tmpl")
		category, kind, _ := strings.Cut(key, ".")
		r.Register(EmbeddedPrompt{
			Key:         key,
			Text:        string(data),
			Description: fmt.Sprintf("%s %s prompt", category, kind),
		})
	}
	return nil
}

// Builder renders the system and user prompts for extraction units.
type Builder struct {
	resolver   *Resolver
	categories map[string]config.CategoryCfg
}

// NewBuilder registers the embedded defaults and loads overrides from dir.
func NewBuilder(dir string, categories map[string]config.CategoryCfg, logger *slog.Logger) (*Builder, error) {
	r := NewResolver(logger)
	if err := RegisterDefaults(r); err != nil {
		return nil, err
	}
	if _, err := r.LoadOverrides(dir); err != nil {
		return nil, err
	}
	return &Builder{resolver: r, categories: categories}, nil
}

// Resolver returns the underlying resolver.
func (b *Builder) Resolver() *Resolver {
	return b.resolver
}

// UserInput describes the chunk a user prompt is rendered for.
type UserInput struct {
	Filename     string
	Chunk        types.Chunk
	TotalChunks  int
	CustomPrompt string
}

type systemData struct {
	Category   string
	RecordsKey string
	PageField  string
}

type userData struct {
	systemData
	Filename    string
	StartPage   int
	EndPage     int
	PageCount   int
	Part        int
	TotalChunks int
}

// System renders the system prompt for category.
func (b *Builder) System(category types.Category) (string, error) {
	data, err := b.systemData(category)
	if err != nil {
		return "", err
	}
	return b.render(SystemKey(string(category)), data)
}

// User renders the user prompt for one chunk. A non-empty custom prompt is
// placed ahead of it under CustomInstructionsHeader.
func (b *Builder) User(category types.Category, in UserInput) (string, error) {
	sys, err := b.systemData(category)
	if err != nil {
		return "", err
	}
	total := in.TotalChunks
	if total < 1 {
		total = 1
	}
	text, err := b.render(UserKey(string(category)), userData{
		systemData:  sys,
		Filename:    in.Filename,
		StartPage:   in.Chunk.StartPage,
		EndPage:     in.Chunk.EndPage,
		PageCount:   in.Chunk.PageCount,
		Part:        in.Chunk.Index + 1,
		TotalChunks: total,
	})
	if err != nil {
		return "", err
	}

	custom := strings.TrimSpace(in.CustomPrompt)
	if custom == "" {
		return text, nil
	}
	return fmt.Sprintf("%s\n%s\n\n---\n\n%s", CustomInstructionsHeader, custom, text), nil
}

func (b *Builder) systemData(category types.Category) (systemData, error) {
	cat, ok := b.categories[string(category)]
	if !ok {
		return systemData{}, &types.ConfigurationError{
			Field: "category",
			Msg:   fmt.Sprintf("no configuration for category %q", category),
		}
	}
	key := cat.RecordsKey
	if key == "" && len(cat.AltRecordKeys) > 0 {
		key = cat.AltRecordKeys[0]
	}
	return systemData{Category: string(category), RecordsKey: key, PageField: cat.PageFieldName()}, nil
}

func (b *Builder) render(key string, data any) (string, error) {
	p, err := b.resolver.Resolve(key)
	if err != nil {
		return "", err
	}
	tmpl, err := parse(key, p.Text)
	if err != nil {
		return "", fmt.Errorf("parse prompt %s: %w", key, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", key, err)
	}
	return strings.TrimSpace(sb.String()), nil
}
