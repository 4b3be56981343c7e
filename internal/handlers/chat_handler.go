package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/middleware"
	"github.com/your-org/autorename/internal/outbox"
	"github.com/your-org/autorename/internal/usecases"
)

const (
	// multipart parts above this size spill to disk
	maxMemoryUpload = 32 << 20
	uploadField     = "file"
)

// ChatService is the chat command surface the handler drives.
type ChatService interface {
	StartMessage() string
	QueueLength() int
	Upload(ctx context.Context, chatID int64, source domain.Delivery, payload []byte, fileName string) (string, error)
	Rename(ctx context.Context, chatID int64, delivery domain.Delivery) usecases.RenameResult
	Format(ctx context.Context, chatID int64) string
	SetFormat(ctx context.Context, chatID int64, format string) (string, error)
	Previews(ctx context.Context, chatID int64) ([]domain.Preview, error)
}

// Mailboxes hands out per-chat deliveries and drains them.
type Mailboxes interface {
	For(chatID int64) domain.Delivery
	Drain(ctx context.Context, chatID int64) []outbox.Message
}

// ChatHandler exposes chat commands over HTTP
type ChatHandler struct {
	service ChatService
	outbox  Mailboxes
	health  domain.HealthChecker
	logger  *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(service ChatService, mailboxes Mailboxes, health domain.HealthChecker, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		outbox:  mailboxes,
		health:  health,
		logger:  logger,
	}
}

// Routes registers the handler on r.
func (h *ChatHandler) Routes(r chi.Router) {
	r.Get("/", h.Start)
	r.Get("/health", h.Health)
	r.Route("/chats/{chatID}", func(r chi.Router) {
		r.Get("/format", h.GetFormat)
		r.Put("/format", h.SetFormat)
		r.Post("/documents", h.Upload)
		r.Post("/rename", h.Rename)
		r.Get("/previews", h.ListPreviews)
		r.Get("/previews/{name}", h.GetPreview)
		r.Get("/outbox", h.Outbox)
	})
}

// Start handles GET /
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]string{"message": h.service.StartMessage()}, requestID)
}

// Health handles GET /health
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := h.health.CheckConnection(ctx); err != nil {
		h.logger.Warn("health check failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusServiceUnavailable, "storage unavailable", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"queue_length": h.service.QueueLength(),
	}, requestID)
}

// GetFormat handles GET /chats/{chatID}/format
func (h *ChatHandler) GetFormat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"format":  h.service.Format(ctx, chatID),
	}, requestID)
}

// SetFormat handles PUT /chats/{chatID}/format
func (h *ChatHandler) SetFormat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	var body struct {
		Format string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Error("failed to decode request body",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	message, err := h.service.SetFormat(ctx, chatID, body.Format)
	switch {
	case errors.Is(err, domain.ErrEmptyFormat):
		h.respondError(w, http.StatusBadRequest, message, requestID)
		return
	case err != nil:
		h.logger.Error("failed to save format",
			zap.String("request_id", requestID),
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to save format", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"message": message}, requestID)
}

// Upload handles POST /chats/{chatID}/documents
func (h *ChatHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		h.logger.Warn("invalid multipart body",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "expected multipart form with a file field", requestID)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "missing file field", requestID)
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("failed to read upload",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "failed to read file", requestID)
		return
	}

	message, err := h.service.Upload(ctx, chatID, h.outbox.For(chatID), payload, header.Filename)
	if err != nil {
		if errors.Is(err, domain.ErrNotPDF) {
			h.respondError(w, http.StatusUnsupportedMediaType, err.Error(), requestID)
			return
		}
		h.logger.Error("failed to enqueue document",
			zap.String("request_id", requestID),
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "failed to enqueue document", requestID)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"message":      message,
		"queue_length": h.service.QueueLength(),
	}, requestID)
}

type itemResponse struct {
	domain.Outcome
	Error string `json:"error,omitempty"`
}

// Rename handles POST /chats/{chatID}/rename
func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	result := h.service.Rename(ctx, chatID, h.outbox.For(chatID))

	items := make([]itemResponse, 0, len(result.Report.Outcomes))
	for _, o := range result.Report.Outcomes {
		items = append(items, itemResponse{Outcome: o, Error: o.ErrorText()})
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"processed": result.Processed,
		"succeeded": result.Report.Succeeded,
		"failed":    result.Report.Failed,
		"message":   result.Message,
		"items":     items,
	}, requestID)
}

type previewResponse struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// ListPreviews handles GET /chats/{chatID}/previews
func (h *ChatHandler) ListPreviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	previews, err := h.service.Previews(ctx, chatID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load previews", requestID)
		return
	}

	list := make([]previewResponse, 0, len(previews))
	for _, p := range previews {
		list = append(list, previewResponse{Name: p.Name, Size: len(p.Data)})
	}

	response := map[string]any{"previews": list}
	if len(list) == 0 {
		response["message"] = usecases.NoPreviewsMessage
	}
	h.respondJSON(w, http.StatusOK, response, requestID)
}

// GetPreview handles GET /chats/{chatID}/previews/{name}
func (h *ChatHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid preview name", requestID)
		return
	}

	previews, err := h.service.Previews(ctx, chatID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load previews", requestID)
		return
	}

	// duplicate names resolve to the oldest preview
	for _, p := range previews {
		if p.Name != name {
			continue
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
		w.Header().Set("X-Request-ID", requestID)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(p.Data); err != nil {
			h.logger.Warn("failed to write preview",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
		return
	}

	h.respondError(w, http.StatusNotFound, "preview not found", requestID)
}

// Outbox handles GET /chats/{chatID}/outbox
func (h *ChatHandler) Outbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}

	messages := h.outbox.Drain(ctx, chatID)
	if messages == nil {
		messages = []outbox.Message{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"messages": messages}, requestID)
}

// chatID parses the chatID URL parameter and answers 400 when it is invalid.
func (h *ChatHandler) chatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "chatID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid chat id", middleware.GetRequestID(r.Context()))
		return 0, false
	}
	return id, true
}

// respondJSON sends a JSON response
func (h *ChatHandler) respondJSON(w http.ResponseWriter, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError sends an error response
func (h *ChatHandler) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}
