package objectstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestObjectKeyRoundTrip(t *testing.T) {
	at := time.Unix(1700000000, 123)

	key := objectKey(42, at, "Alpha_Ch1.jpg")
	assert.True(t, strings.HasPrefix(key, "previews/42/"))
	assert.Equal(t, "Alpha_Ch1.jpg", previewName(42, key))

	key = objectKey(42, at, "AC/DC-Live_Ch3.jpg")
	assert.Equal(t, "AC/DC-Live_Ch3.jpg", previewName(42, key))
}

func TestObjectKeyOrdering(t *testing.T) {
	early := objectKey(1, time.Unix(9, 0), "z.jpg")
	late := objectKey(1, time.Unix(10, 0), "a.jpg")
	assert.Less(t, early, late)
}

func TestPreviewStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT is not set")
	}

	client, err := NewClient(Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	store, err := NewPreviewStore(ctx, client, "autorename-test", zaptest.NewLogger(t))
	require.NoError(t, err)

	chatID := time.Now().UnixNano()
	require.NoError(t, store.SavePreview(ctx, chatID, "Alpha_Ch1.jpg", []byte{1, 2}))
	require.NoError(t, store.SavePreview(ctx, chatID, "Alpha_Ch1.jpg", []byte{3}))

	previews, err := store.GetPreviews(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, previews, 2)
	assert.Equal(t, "Alpha_Ch1.jpg", previews[0].Name)
	assert.Equal(t, []byte{1, 2}, previews[0].Data)
	assert.Equal(t, []byte{3}, previews[1].Data)
}
