package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFormat is returned when a chat tries to store an empty template.
	ErrEmptyFormat = errors.New("filename format is empty")

	// ErrNotPDF is returned for uploads that are not PDF documents.
	ErrNotPDF = errors.New("document is not a PDF")

	// ErrUnknownPlaceholder is wrapped by TemplateError for placeholders other than title and chapter.
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
)

// ExtractionError means the payload could not be parsed as a document at all.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("invalid PDF or metadata: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TemplateError means the filename template could not be rendered.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("render filename template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// DeliveryError means sending a document or preview to the chat failed.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
