// Package pdf reads document metadata and renders first-page previews.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

const (
	infoKeyTitle   = "Title"
	infoKeyChapter = "Chapter"
)

func init() {
	// pdfcpu would otherwise create a config directory under the user's home.
	api.DisableConfigDir()
}

// MetadataExtractor reads title and chapter from the document Info dictionary.
type MetadataExtractor struct {
	logger *zap.Logger
}

// NewMetadataExtractor creates an extractor.
func NewMetadataExtractor(logger *zap.Logger) *MetadataExtractor {
	return &MetadataExtractor{logger: logger}
}

// Extract parses payload and returns its metadata. It fails only when the
// payload is not a readable PDF; missing or odd metadata falls back to the
// defaults. A document pdfcpu cannot read but MuPDF can open still counts as
// a PDF and gets the defaults.
func (e *MetadataExtractor) Extract(payload []byte) (domain.Metadata, error) {
	info, err := readPayloadInfo(payload)
	if err != nil {
		if openErr := openWithMuPDF(payload); openErr != nil {
			e.logger.Debug("payload is not a readable PDF", zap.Error(err), zap.NamedError("open_error", openErr))
			return domain.Metadata{}, &domain.ExtractionError{Err: err}
		}
		e.logger.Warn("info dictionary unreadable, using default metadata", zap.Error(err))
		return domain.DefaultMetadata(), nil
	}

	meta := resolveMetadata(info[strings.ToLower(infoKeyTitle)], info[strings.ToLower(infoKeyChapter)])
	e.logger.Debug("extracted metadata",
		zap.String("title", meta.Title),
		zap.Float64("chapter", meta.Chapter),
	)
	return meta, nil
}

// readPayloadInfo reads the Info dictionary with pdfcpu. Only the cross
// reference table and the trailer are parsed; page tree validation is skipped.
func readPayloadInfo(payload []byte) (info map[string]string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read panic: %v", rec)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(payload), conf)
	if err != nil {
		return nil, err
	}
	return readInfo(ctx)
}

// openWithMuPDF fails unless MuPDF opens payload and finds at least one page.
func openWithMuPDF(payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("open panic: %v", rec)
		}
	}()

	doc, err := fitz.NewFromMemory(payload)
	if err != nil {
		return err
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return errors.New("document has no pages")
	}
	return nil
}

// resolveMetadata applies the fallback rules to raw Info values.
func resolveMetadata(rawTitle, rawChapter string) domain.Metadata {
	title := strings.TrimSpace(rawTitle)
	chapter := strings.TrimSpace(rawChapter)
	if title == "" || chapter == "" {
		return domain.DefaultMetadata()
	}
	return domain.Metadata{Title: title, Chapter: parseChapter(chapter)}
}

// parseChapter converts an all-digit chapter string; anything else is 1.
func parseChapter(s string) float64 {
	if s == "" {
		return domain.DefaultChapter
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return domain.DefaultChapter
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return domain.DefaultChapter
	}
	return v
}

// readInfo returns the Info dictionary as lower-cased key to text value.
// A document without an Info dictionary yields an empty map.
func readInfo(ctx *model.Context) (map[string]string, error) {
	out := make(map[string]string)
	if ctx.Info == nil {
		return out, nil
	}

	dict, err := ctx.DereferenceDict(*ctx.Info)
	if err != nil {
		return nil, fmt.Errorf("read info dictionary: %w", err)
	}

	for key, obj := range dict {
		obj, err := ctx.Dereference(obj)
		if err != nil || obj == nil {
			continue
		}
		if s, ok := objectText(obj); ok {
			out[strings.ToLower(key)] = s
		}
	}
	return out, nil
}

func objectText(obj types.Object) (string, bool) {
	switch o := obj.(type) {
	case types.StringLiteral:
		s, err := types.StringLiteralToString(o)
		return s, err == nil
	case types.HexLiteral:
		s, err := types.HexLiteralToString(o)
		return s, err == nil
	case types.Name:
		return string(o), true
	case types.Integer:
		return strconv.Itoa(int(o)), true
	case types.Float:
		return strconv.FormatFloat(float64(o), 'f', -1, 64), true
	default:
		return "", false
	}
}

var _ domain.MetadataExtractor = (*MetadataExtractor)(nil)
