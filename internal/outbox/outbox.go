// Package outbox keeps per-chat mailboxes for clients that poll for results.
package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/your-org/autorename/internal/cache"
	"github.com/your-org/autorename/internal/domain"
)

// Kind of an outbox message.
type Kind string

const (
	KindReply    Kind = "reply"
	KindDocument Kind = "document"
	KindPhoto    Kind = "photo"
)

// Message is one delivery waiting to be collected.
type Message struct {
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Name      string    `json:"name,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbox stores messages per chat in a TTL cache. Unclaimed mailboxes expire.
type Outbox struct {
	store *cache.ShardedCache
}

// New creates an outbox on top of store.
func New(store *cache.ShardedCache) *Outbox {
	return &Outbox{store: store}
}

// For returns a Delivery that writes into the chat's mailbox.
func (o *Outbox) For(chatID int64) domain.Delivery {
	return &mailbox{outbox: o, chatID: chatID}
}

// Drain returns the chat's messages in arrival order and empties the mailbox.
func (o *Outbox) Drain(ctx context.Context, chatID int64) []Message {
	v, ok := o.store.Take(ctx, key(chatID))
	if !ok {
		return []Message{}
	}
	return v.([]Message)
}

func (o *Outbox) push(ctx context.Context, chatID int64, msg Message) error {
	msg.CreatedAt = time.Now()
	return o.store.Update(ctx, key(chatID), func(current any, found bool) any {
		if !found {
			return []Message{msg}
		}
		return append(current.([]Message), msg)
	})
}

func key(chatID int64) string {
	return "outbox:" + strconv.FormatInt(chatID, 10)
}

type mailbox struct {
	outbox *Outbox
	chatID int64
}

func (m *mailbox) Reply(ctx context.Context, text string) error {
	return m.outbox.push(ctx, m.chatID, Message{Kind: KindReply, Text: text})
}

func (m *mailbox) SendDocument(ctx context.Context, data []byte, name string) error {
	return m.outbox.push(ctx, m.chatID, Message{Kind: KindDocument, Name: name, Data: data})
}

func (m *mailbox) SendPhoto(ctx context.Context, data []byte, caption string) error {
	return m.outbox.push(ctx, m.chatID, Message{Kind: KindPhoto, Caption: caption, Data: data})
}

var _ domain.Delivery = (*mailbox)(nil)
