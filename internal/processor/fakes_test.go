package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/your-org/autorename/internal/domain"
)

type sentDocument struct {
	Name string
	Data []byte
}

type sentPhoto struct {
	Caption string
	Data    []byte
}

// recordingDelivery records everything sent to a chat.
type recordingDelivery struct {
	mu        sync.Mutex
	replies   []string
	documents []sentDocument
	photos    []sentPhoto

	documentErr error
	photoErr    error
	replyErr    error
}

var _ domain.Delivery = (*recordingDelivery)(nil)

func (d *recordingDelivery) Reply(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies = append(d.replies, text)
	return d.replyErr
}

func (d *recordingDelivery) SendDocument(_ context.Context, data []byte, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.documentErr != nil {
		return d.documentErr
	}
	d.documents = append(d.documents, sentDocument{Name: name, Data: data})
	return nil
}

func (d *recordingDelivery) SendPhoto(_ context.Context, data []byte, caption string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.photoErr != nil {
		return d.photoErr
	}
	d.photos = append(d.photos, sentPhoto{Caption: caption, Data: data})
	return nil
}

func (d *recordingDelivery) Replies() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.replies...)
}

func (d *recordingDelivery) DocumentNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.documents))
	for _, doc := range d.documents {
		names = append(names, doc.Name)
	}
	return names
}

func (d *recordingDelivery) Photos() []sentPhoto {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentPhoto(nil), d.photos...)
}

// stubExtractor maps payloads to metadata. Unknown payloads fail extraction.
type stubExtractor struct {
	byPayload map[string]domain.Metadata
	panicOn   string
}

func (e stubExtractor) Extract(payload []byte) (domain.Metadata, error) {
	if e.panicOn != "" && string(payload) == e.panicOn {
		panic("corrupt xref")
	}
	meta, ok := e.byPayload[string(payload)]
	if !ok {
		return domain.Metadata{}, &domain.ExtractionError{Err: errors.New("no header")}
	}
	return meta, nil
}

// stubRenderer returns a fixed preview, or none when image is nil.
type stubRenderer struct {
	image []byte
}

func (r stubRenderer) Render([]byte, domain.Metadata) ([]byte, bool) {
	if r.image == nil {
		return nil, false
	}
	return r.image, true
}

// MockPreviewStore is a mock implementation of PreviewStore
type MockPreviewStore struct {
	mock.Mock
}

var _ domain.PreviewStore = (*MockPreviewStore)(nil)

func (m *MockPreviewStore) SavePreview(ctx context.Context, chatID int64, name string, data []byte) error {
	args := m.Called(ctx, chatID, name, data)
	return args.Error(0)
}

func (m *MockPreviewStore) GetPreviews(ctx context.Context, chatID int64) ([]domain.Preview, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Preview), args.Error(1)
}

// nopPreviewStore accepts and forgets previews.
type nopPreviewStore struct{}

func (nopPreviewStore) SavePreview(context.Context, int64, string, []byte) error { return nil }

func (nopPreviewStore) GetPreviews(context.Context, int64) ([]domain.Preview, error) {
	return nil, nil
}
