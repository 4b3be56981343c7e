package pdf

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

// PreviewConfig controls preview rasterization.
type PreviewConfig struct {
	// DPI of the rendered page; 36 is half of the 72 DPI page space.
	DPI float64
	// Quality is the JPEG quality, 1..100.
	Quality int
}

// DefaultPreviewConfig returns half-scale previews at JPEG quality 75.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{DPI: 36, Quality: 75}
}

// PreviewRenderer rasterizes the first page of a document with MuPDF.
type PreviewRenderer struct {
	cfg    PreviewConfig
	logger *zap.Logger
}

// NewPreviewRenderer creates a renderer. Zero config values take the defaults.
func NewPreviewRenderer(cfg PreviewConfig, logger *zap.Logger) *PreviewRenderer {
	def := DefaultPreviewConfig()
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	return &PreviewRenderer{cfg: cfg, logger: logger}
}

// Render returns a JPEG of the first page, or false if one cannot be made.
func (r *PreviewRenderer) Render(payload []byte, meta domain.Metadata) ([]byte, bool) {
	data, err := r.render(payload)
	if err != nil {
		r.logger.Error("error generating preview", zap.String("title", meta.Title), zap.Error(err))
		return nil, false
	}
	r.logger.Debug("generated preview", zap.String("title", meta.Title), zap.Int("bytes", len(data)))
	return data, true
}

func (r *PreviewRenderer) render(payload []byte) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()

	doc, err := fitz.NewFromMemory(payload)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, fmt.Errorf("document has no pages")
	}

	img, err := doc.ImageDPI(0, r.cfg.DPI)
	if err != nil {
		return nil, fmt.Errorf("render first page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

var _ domain.PreviewRenderer = (*PreviewRenderer)(nil)
