package template

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"cleanloop/internal/api"
)

// ArtifactContext is the data available to an artifact name template.
type ArtifactContext struct {
	Name   string // image (field) name
	Term   int    // Taylor term index
	NTerms int
	Kind   api.ArtifactKind
}

// Engine renders artifact names from text/template sources with the sprig
// function map. Parsed templates are cached by source text.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// New creates a new template engine
func New() *Engine {
	return &Engine{cache: make(map[string]*template.Template)}
}

func (e *Engine) parse(src string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.cache[src]; ok {
		return t, nil
	}
	t, err := template.New("artifact").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse name template %q: %w", src, err)
	}
	e.cache[src] = t
	return t, nil
}

// Render executes src against ctx. The result is trimmed and must be non-empty.
func (e *Engine) Render(src string, ctx ArtifactContext) (string, error) {
	t, err := e.parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("render name template %q: %w", src, err)
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		return "", fmt.Errorf("name template %q rendered an empty name for %s", src, ctx.Kind)
	}
	return name, nil
}

// ArtifactNames renders one name per artifact kind.
func (e *Engine) ArtifactNames(src string, name string, term, nterms int) (map[api.ArtifactKind]string, error) {
	kinds := []api.ArtifactKind{api.ArtifactPsf, api.ArtifactResidual, api.ArtifactModel, api.ArtifactWeight, api.ArtifactRestored}
	names := make(map[api.ArtifactKind]string, len(kinds))
	for _, kind := range kinds {
		n, err := e.Render(src, ArtifactContext{Name: name, Term: term, NTerms: nterms, Kind: kind})
		if err != nil {
			return nil, err
		}
		names[kind] = n
	}
	return names, nil
}
