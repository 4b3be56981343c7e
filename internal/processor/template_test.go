package processor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/autorename/internal/domain"
)

func TestRenderFilename(t *testing.T) {
	tests := []struct {
		name     string
		template string
		meta     domain.Metadata
		want     string
	}{
		{
			name:     "default format",
			template: "{title} - Chapter {chapter}.pdf",
			meta:     domain.Metadata{Title: "Alpha", Chapter: 1},
			want:     "Alpha - Chapter 1.0.pdf",
		},
		{
			name:     "fractional chapter",
			template: "{title} Ch{chapter}",
			meta:     domain.Metadata{Title: "Beta", Chapter: 2.5},
			want:     "Beta Ch2.5",
		},
		{
			name:     "repeated placeholders",
			template: "{title}/{title}-{chapter}",
			meta:     domain.Metadata{Title: "X", Chapter: 3},
			want:     "X/X-3.0",
		},
		{
			name:     "no placeholders",
			template: "static.pdf",
			meta:     domain.DefaultMetadata(),
			want:     "static.pdf",
		},
		{
			name:     "escaped braces",
			template: "{{draft}} {title}",
			meta:     domain.Metadata{Title: "Alpha", Chapter: 1},
			want:     "{draft} Alpha",
		},
		{
			name:     "escaped braces around placeholder",
			template: "{{{title}}} }}x{{",
			meta:     domain.Metadata{Title: "Alpha", Chapter: 1},
			want:     "{Alpha} }x{",
		},
		{
			name:     "defaults",
			template: "{title} - Chapter {chapter}.pdf",
			meta:     domain.DefaultMetadata(),
			want:     "Unknown - Chapter 1.0.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderFilename(tt.template, tt.meta)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderFilenameErrors(t *testing.T) {
	meta := domain.Metadata{Title: "Alpha", Chapter: 1}

	t.Run("unknown placeholder", func(t *testing.T) {
		_, err := RenderFilename("{title} Vol{volume}", meta)
		require.Error(t, err)

		var tmplErr *domain.TemplateError
		require.True(t, errors.As(err, &tmplErr))
		assert.Equal(t, "{title} Vol{volume}", tmplErr.Template)
		assert.ErrorIs(t, err, domain.ErrUnknownPlaceholder)
		assert.Contains(t, err.Error(), "{volume}")
	})

	for _, template := range []string{"{title} }", "a}b", "{ti{tle}", "{title}\x00"} {
		t.Run("malformed "+template, func(t *testing.T) {
			_, err := RenderFilename(template, meta)
			var tmplErr *domain.TemplateError
			require.True(t, errors.As(err, &tmplErr))
			assert.Equal(t, template, tmplErr.Template)
		})
	}

	t.Run("unterminated placeholder", func(t *testing.T) {
		_, err := RenderFilename("{title", meta)
		require.Error(t, err)

		var tmplErr *domain.TemplateError
		assert.True(t, errors.As(err, &tmplErr))
	})
}

func TestFormatChapter(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{12, "12.0"},
		{0, "0.0"},
		{-3, "-3.0"},
		{2.5, "2.5"},
		{10.25, "10.25"},
		{1e16, "1e+16"},
		{0.00001, "1e-05"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatChapter(tt.in), "chapter %v", tt.in)
	}
}

func TestPreviewName(t *testing.T) {
	assert.Equal(t, "Alpha_Ch1.jpg", PreviewName(domain.Metadata{Title: "Alpha", Chapter: 1}))
	assert.Equal(t, "Beta_Ch2.jpg", PreviewName(domain.Metadata{Title: "Beta", Chapter: 2.7}))
	assert.Equal(t, "Unknown_Ch1.jpg", PreviewName(domain.DefaultMetadata()))
	assert.Equal(t, "Gamma_Ch0.jpg", PreviewName(domain.Metadata{Title: "Gamma", Chapter: -0.5}))
}

func TestPreviewNameHugeChapter(t *testing.T) {
	assert.Equal(t, "Big_Ch9223372036854775808.jpg", PreviewName(domain.Metadata{Title: "Big", Chapter: 1 << 63}))
	assert.Equal(t, "Big_Ch100000000000000000000.jpg", PreviewName(domain.Metadata{Title: "Big", Chapter: 1e20}))
}
