package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/autorename/internal/domain"
)

const defaultPage = "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>"

// buildPDF writes a one-page document whose Info dictionary holds info.
func buildPDF(info map[string]string) []byte {
	return buildPDFWith(info, defaultPage, 0)
}

// buildPDFWith writes a one-page document with the given page dictionary.
// Every xref offset is moved by xrefShift bytes.
func buildPDFWith(info map[string]string, page string, xrefShift int) []byte {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var infoDict bytes.Buffer
	infoDict.WriteString("<<")
	for _, k := range keys {
		fmt.Fprintf(&infoDict, " /%s (%s)", k, info[k])
	}
	infoDict.WriteString(" >>")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		page,
		infoDict.String(),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off+xrefShift)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 4 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestMetadataExtractor_Extract(t *testing.T) {
	tests := []struct {
		name string
		info map[string]string
		want domain.Metadata
	}{
		{
			name: "title and chapter",
			info: map[string]string{"Title": "Alpha", "Chapter": "12"},
			want: domain.Metadata{Title: "Alpha", Chapter: 12},
		},
		{
			name: "surrounding whitespace",
			info: map[string]string{"Title": "  Beta  ", "Chapter": " 3 "},
			want: domain.Metadata{Title: "Beta", Chapter: 3},
		},
		{
			name: "non digit chapter",
			info: map[string]string{"Title": "Gamma", "Chapter": "2.5"},
			want: domain.Metadata{Title: "Gamma", Chapter: 1},
		},
		{
			name: "lower case key",
			info: map[string]string{"Title": "Delta", "chapter": "4"},
			want: domain.Metadata{Title: "Delta", Chapter: 4},
		},
		{
			name: "missing chapter",
			info: map[string]string{"Title": "Epsilon"},
			want: domain.DefaultMetadata(),
		},
		{
			name: "missing title",
			info: map[string]string{"Chapter": "9"},
			want: domain.DefaultMetadata(),
		},
		{
			name: "empty info",
			info: map[string]string{},
			want: domain.DefaultMetadata(),
		},
	}

	e := NewMetadataExtractor(zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(buildPDF(tt.info))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadataExtractor_Deterministic(t *testing.T) {
	e := NewMetadataExtractor(zaptest.NewLogger(t))
	payload := buildPDF(map[string]string{"Title": "Alpha", "Chapter": "7"})

	first, err := e.Extract(payload)
	require.NoError(t, err)
	second, err := e.Extract(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMetadataExtractor_InvalidPayload(t *testing.T) {
	e := NewMetadataExtractor(zaptest.NewLogger(t))

	for _, payload := range [][]byte{nil, []byte("hello world"), []byte("%PDF-1.4\ngarbage")} {
		_, err := e.Extract(payload)
		require.Error(t, err)

		var extractErr *domain.ExtractionError
		assert.True(t, errors.As(err, &extractErr))
		assert.Contains(t, err.Error(), "invalid PDF or metadata")
	}
}

func TestMetadataExtractor_PageWithoutMediaBox(t *testing.T) {
	e := NewMetadataExtractor(zaptest.NewLogger(t))
	payload := buildPDFWith(map[string]string{"Title": "Alpha", "Chapter": "2"},
		"<< /Type /Page /Parent 2 0 R /Resources << >> >>", 0)

	got, err := e.Extract(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{Title: "Alpha", Chapter: 2}, got)
}

func TestMetadataExtractor_BrokenXrefOffsets(t *testing.T) {
	e := NewMetadataExtractor(zaptest.NewLogger(t))
	payload := buildPDFWith(map[string]string{"Title": "Alpha", "Chapter": "2"}, defaultPage, 7)

	got, err := e.Extract(payload)
	require.NoError(t, err)
	assert.Contains(t, []domain.Metadata{{Title: "Alpha", Chapter: 2}, domain.DefaultMetadata()}, got)

	r := NewPreviewRenderer(DefaultPreviewConfig(), zaptest.NewLogger(t))
	_, ok := r.Render(payload, got)
	assert.True(t, ok)
}

func TestParseChapter(t *testing.T) {
	assert.Equal(t, 1.0, parseChapter(""))
	assert.Equal(t, 7.0, parseChapter("007"))
	assert.Equal(t, 1.0, parseChapter("-3"))
	assert.Equal(t, 1.0, parseChapter("1e3"))
	assert.Equal(t, 1.0, parseChapter("٣"))
	assert.Equal(t, 250.0, parseChapter("250"))
}

func TestPreviewRenderer_Render(t *testing.T) {
	r := NewPreviewRenderer(DefaultPreviewConfig(), zaptest.NewLogger(t))

	data, ok := r.Render(buildPDF(map[string]string{"Title": "Alpha", "Chapter": "1"}), domain.Metadata{Title: "Alpha", Chapter: 1})
	require.True(t, ok)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.InDelta(t, 306, img.Bounds().Dx(), 2)
	assert.InDelta(t, 396, img.Bounds().Dy(), 2)
}

func TestPreviewRenderer_InvalidPayload(t *testing.T) {
	r := NewPreviewRenderer(PreviewConfig{}, zaptest.NewLogger(t))

	data, ok := r.Render([]byte("not a pdf"), domain.DefaultMetadata())
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestNewPreviewRenderer_Defaults(t *testing.T) {
	r := NewPreviewRenderer(PreviewConfig{DPI: -1, Quality: 500}, zaptest.NewLogger(t))
	assert.Equal(t, DefaultPreviewConfig(), r.cfg)
}
