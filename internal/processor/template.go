package processor

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/your-org/autorename/internal/domain"
)

const (
	placeholderTitle   = "title"
	placeholderChapter = "chapter"

	// internal tags standing for the "{{" and "}}" escapes; NUL cannot
	// appear in a file name, so no user placeholder collides with them
	tagLiteralOpen  = "\x00lbrace"
	tagLiteralClose = "\x00rbrace"
)

var (
	errUnterminatedPlaceholder = errors.New("unterminated placeholder")
	errSingleCloseBrace        = errors.New("single '}' encountered")
	errNULInTemplate           = errors.New("NUL byte in template")
)

// RenderFilename substitutes {title} and {chapter} into template. "{{" and
// "}}" stand for literal braces. Any other placeholder, an unterminated one
// or a lone "}" yields a *domain.TemplateError.
func RenderFilename(template string, meta domain.Metadata) (string, error) {
	rewritten, err := rewriteEscapes(template)
	if err != nil {
		return "", &domain.TemplateError{Template: template, Err: err}
	}

	t, err := fasttemplate.NewTemplate(rewritten, "{", "}")
	if err != nil {
		return "", &domain.TemplateError{Template: template, Err: err}
	}

	name, err := t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case placeholderTitle:
			return io.WriteString(w, meta.Title)
		case placeholderChapter:
			return io.WriteString(w, FormatChapter(meta.Chapter))
		case tagLiteralOpen:
			return io.WriteString(w, "{")
		case tagLiteralClose:
			return io.WriteString(w, "}")
		default:
			return 0, fmt.Errorf("%w {%s}", domain.ErrUnknownPlaceholder, tag)
		}
	})
	if err != nil {
		return "", &domain.TemplateError{Template: template, Err: err}
	}
	return name, nil
}

// rewriteEscapes turns "{{" and "}}" into internal tags and checks that
// every "{" is closed before the next brace.
func rewriteEscapes(template string) (string, error) {
	if strings.IndexByte(template, 0) >= 0 {
		return "", errNULInTemplate
	}

	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		switch c := template[i]; c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteString("{" + tagLiteralOpen + "}")
				i++
				continue
			}
			end := strings.IndexAny(template[i+1:], "{}")
			if end < 0 || template[i+1+end] == '{' {
				return "", errUnterminatedPlaceholder
			}
			b.WriteString(template[i : i+2+end])
			i += 1 + end
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteString("{" + tagLiteralClose + "}")
				i++
				continue
			}
			return "", errSingleCloseBrace
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// FormatChapter renders a chapter number the way users have always seen it
// in file names: integral values keep one decimal place ("1.0", "12.0").
func FormatChapter(chapter float64) string {
	abs := math.Abs(chapter)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(chapter, 'g', -1, 64)
	}
	s := strconv.FormatFloat(chapter, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// PreviewName is the name a preview is persisted under: {title}_Ch{int(chapter)}.jpg.
// The chapter is truncated toward zero without an integer conversion, so
// chapters beyond the int64 range keep all their digits.
func PreviewName(meta domain.Metadata) string {
	chapter := math.Trunc(meta.Chapter)
	if chapter == 0 {
		chapter = 0 // drops the sign of -0
	}
	return fmt.Sprintf("%s_Ch%s.jpg", meta.Title, strconv.FormatFloat(chapter, 'f', 0, 64))
}
