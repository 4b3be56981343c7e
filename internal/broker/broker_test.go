package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/usecases"
)

type recordingChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	err       error
}

func (c *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *recordingChannel) events(t *testing.T) []Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.published))
	for _, p := range c.published {
		var ev Event
		require.NoError(t, json.Unmarshal(p.Body, &ev))
		out = append(out, ev)
	}
	return out
}

func TestPublisherDelivery(t *testing.T) {
	ch := &recordingChannel{}
	p := newPublisher(ch, "deliveries", zaptest.NewLogger(t))
	ctx := context.Background()

	d := p.For(12)
	require.NoError(t, d.Reply(ctx, "hello"))
	require.NoError(t, d.SendDocument(ctx, []byte("%PDF"), "Alpha Ch1.0"))
	require.NoError(t, d.SendPhoto(ctx, []byte{0xff, 0xd8}, "Thumbnail for Alpha Ch1.0"))

	events := ch.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, Event{ChatID: 12, Kind: EventReply, Text: "hello"}, events[0])
	assert.Equal(t, Event{ChatID: 12, Kind: EventDocument, Name: "Alpha Ch1.0", Content: []byte("%PDF")}, events[1])
	assert.Equal(t, Event{ChatID: 12, Kind: EventPhoto, Caption: "Thumbnail for Alpha Ch1.0", Content: []byte{0xff, 0xd8}}, events[2])

	assert.Equal(t, []string{"deliveries", "deliveries", "deliveries"}, ch.keys)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
}

func TestPublisherError(t *testing.T) {
	ch := &recordingChannel{err: errors.New("channel closed")}
	p := newPublisher(ch, "deliveries", zaptest.NewLogger(t))

	err := p.For(1).Reply(context.Background(), "x")
	assert.ErrorContains(t, err, "channel closed")
}

type fakeHandler struct {
	uploads   []string
	formats   []string
	renames   int
	previews  int
	uploadErr error
	formatErr error
}

func (h *fakeHandler) StartMessage() string { return "Welcome" }

func (h *fakeHandler) Upload(_ context.Context, _ int64, _ domain.Delivery, payload []byte, fileName string) (string, error) {
	if h.uploadErr != nil {
		return "", h.uploadErr
	}
	h.uploads = append(h.uploads, fileName+":"+string(payload))
	return "PDF " + fileName + " added to queue. Use /rename to process.", nil
}

func (h *fakeHandler) SetFormat(_ context.Context, _ int64, format string) (string, error) {
	if h.formatErr != nil {
		if errors.Is(h.formatErr, domain.ErrEmptyFormat) {
			return usecases.FormatHint, h.formatErr
		}
		return "", h.formatErr
	}
	h.formats = append(h.formats, format)
	return "Filename format set to: " + format, nil
}

func (h *fakeHandler) Rename(context.Context, int64, domain.Delivery) usecases.RenameResult {
	h.renames++
	return usecases.RenameResult{Processed: 2, Message: "Processed 2 PDF(s)."}
}

func (h *fakeHandler) SendPreviews(context.Context, int64, domain.Delivery) (int, error) {
	h.previews++
	return 0, nil
}

func newTestConsumer(t *testing.T, h Handler) (*Consumer, *recordingChannel) {
	ch := &recordingChannel{}
	return &Consumer{
		handler:    h,
		deliveries: newPublisher(ch, "deliveries", zaptest.NewLogger(t)),
		logger:     zaptest.NewLogger(t),
	}, ch
}

func encode(t *testing.T, cmd Command) []byte {
	body, err := json.Marshal(cmd)
	require.NoError(t, err)
	return body
}

func TestConsumerHandleCommands(t *testing.T) {
	h := &fakeHandler{}
	c, ch := newTestConsumer(t, h)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandStart, ChatID: 3})))
	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandDocument, ChatID: 3, FileName: "a.pdf", FileContent: []byte("%PDF-1.4")})))
	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandFormat, ChatID: 3, Format: "{title}.pdf"})))
	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandRename, ChatID: 3})))
	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandThumbnails, ChatID: 3})))

	assert.Equal(t, []string{"a.pdf:%PDF-1.4"}, h.uploads)
	assert.Equal(t, []string{"{title}.pdf"}, h.formats)
	assert.Equal(t, 1, h.renames)
	assert.Equal(t, 1, h.previews)

	var texts []string
	for _, ev := range ch.events(t) {
		assert.Equal(t, int64(3), ev.ChatID)
		texts = append(texts, ev.Text)
	}
	assert.Equal(t, []string{
		"Welcome",
		"PDF a.pdf added to queue. Use /rename to process.",
		"Filename format set to: {title}.pdf",
		"Processed 2 PDF(s).",
	}, texts)
}

func TestConsumerHandleBase64Content(t *testing.T) {
	h := &fakeHandler{}
	c, _ := newTestConsumer(t, h)

	body := []byte(`{"type":"document","chat_id":5,"file_name":"b.pdf","file_content":"JVBERi0xLjQ="}`)
	require.NoError(t, c.Handle(context.Background(), body))
	assert.Equal(t, []string{"b.pdf:%PDF-1.4"}, h.uploads)
}

func TestConsumerHandleReportsCommandFailures(t *testing.T) {
	h := &fakeHandler{uploadErr: domain.ErrNotPDF, formatErr: domain.ErrEmptyFormat}
	c, ch := newTestConsumer(t, h)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandDocument, ChatID: 3, FileName: "x.zip", FileContent: []byte("PK")})))
	require.NoError(t, c.Handle(ctx, encode(t, Command{Type: CommandFormat, ChatID: 3})))

	events := ch.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "Error processing x.zip: document is not a PDF", events[0].Text)
	assert.Equal(t, usecases.FormatHint, events[1].Text)
}

func TestConsumerHandleRejectsMalformed(t *testing.T) {
	c, ch := newTestConsumer(t, &fakeHandler{})
	ctx := context.Background()

	for _, body := range [][]byte{
		[]byte("not json"),
		[]byte(`{"type":"rename"}`),
		[]byte(`{"type":"delete","chat_id":1}`),
		[]byte(`{"type":"document","chat_id":1,"file_name":"a.pdf"}`),
		[]byte(`{"type":"document","chat_id":1,"file_content":"***"}`),
	} {
		assert.Error(t, c.Handle(ctx, body), string(body))
	}
	assert.Empty(t, ch.events(t))
}
