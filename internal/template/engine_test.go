package template

import (
	"testing"

	"cleanloop/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultTemplate = `{{ .Name }}{{ if gt .NTerms 1 }}.tt{{ .Term }}{{ end }}.{{ .Kind }}`

func TestRender(t *testing.T) {
	e := New()

	tests := []struct {
		name     string
		src      string
		ctx      ArtifactContext
		expected string
	}{
		{
			name:     "single term",
			src:      defaultTemplate,
			ctx:      ArtifactContext{Name: "field0", NTerms: 1, Kind: api.ArtifactResidual},
			expected: "field0.residual",
		},
		{
			name:     "taylor term",
			src:      defaultTemplate,
			ctx:      ArtifactContext{Name: "field0", Term: 1, NTerms: 2, Kind: api.ArtifactModel},
			expected: "field0.tt1.model",
		},
		{
			name:     "sprig functions",
			src:      `{{ .Name | upper }}-{{ printf "%03d" .Term }}.{{ .Kind | toString | replace "image" "restored" }}`,
			ctx:      ArtifactContext{Name: "m31", Term: 2, NTerms: 3, Kind: api.ArtifactRestored},
			expected: "M31-002.restored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderErrors(t *testing.T) {
	e := New()

	_, err := e.Render(`{{ .Name `, ArtifactContext{Name: "x"})
	assert.ErrorContains(t, err, "parse name template")

	_, err = e.Render(`{{ .Missing }}`, ArtifactContext{Name: "x"})
	assert.ErrorContains(t, err, "render name template")

	_, err = e.Render(`   `, ArtifactContext{Name: "x"})
	assert.ErrorContains(t, err, "empty name")
}

func TestArtifactNames(t *testing.T) {
	names, err := New().ArtifactNames(defaultTemplate, "field1", 0, 2)
	require.NoError(t, err)

	assert.Equal(t, map[api.ArtifactKind]string{
		api.ArtifactPsf:      "field1.tt0.psf",
		api.ArtifactResidual: "field1.tt0.residual",
		api.ArtifactModel:    "field1.tt0.model",
		api.ArtifactWeight:   "field1.tt0.weight",
		api.ArtifactRestored: "field1.tt0.image",
	}, names)
}

func TestParseIsCached(t *testing.T) {
	e := New()
	_, err := e.Render(defaultTemplate, ArtifactContext{Name: "a", NTerms: 1, Kind: api.ArtifactPsf})
	require.NoError(t, err)
	_, err = e.Render(defaultTemplate, ArtifactContext{Name: "b", NTerms: 1, Kind: api.ArtifactPsf})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}
