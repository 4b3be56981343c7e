package usecases

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/processor"
	"github.com/your-org/autorename/internal/queue"
)

// Тексты ответов пользователю.
const (
	FormatHint        = "Provide a format, e.g., /format {title} - Chapter {chapter}.pdf"
	NoPreviewsMessage = "No thumbnails found."
)

// Drainer обрабатывает все, что сейчас лежит в очереди.
type Drainer interface {
	DrainReport(ctx context.Context, req processor.DrainRequest) processor.Report
}

// Config содержит настройки сценариев чата.
type Config struct {
	Workers          int
	DefaultFormat    string
	StartMessage     string
	MaxConcurrentOps int
}

// RenameResult описывает итог команды rename.
type RenameResult struct {
	Processed int
	Message   string
	Report    processor.Report
}

// RenameUsecase связывает команды чата с очередью, диспетчером и хранилищами:
// загрузка документа ставит его в очередь, rename разгребает очередь пулом воркеров.
// Шаблоны имен читаются через кэш (Cache-Aside).
type RenameUsecase struct {
	queue    *queue.WorkQueue
	drainer  Drainer
	formats  domain.PreferenceStore
	previews domain.PreviewStore
	cache    domain.Cache
	logger   *zap.Logger
	cfg      Config

	rateLimiter *RateLimiter
	onEnqueue   func()
	wg          sync.WaitGroup

	// поколение шаблона по чату, SetFormat его увеличивает
	genMu sync.Mutex
	gens  map[int64]uint64
}

// Option настраивает RenameUsecase.
type Option func(*RenameUsecase)

// WithEnqueueHook вызывает fn после каждой постановки документа в очередь.
func WithEnqueueHook(fn func()) Option {
	return func(u *RenameUsecase) {
		if fn != nil {
			u.onEnqueue = fn
		}
	}
}

// NewRenameUsecase создает usecase. Очередь общая с диспетчером.
func NewRenameUsecase(
	q *queue.WorkQueue,
	drainer Drainer,
	formats domain.PreferenceStore,
	previews domain.PreviewStore,
	cache domain.Cache,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) *RenameUsecase {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	u := &RenameUsecase{
		queue:       q,
		drainer:     drainer,
		formats:     formats,
		previews:    previews,
		cache:       cache,
		logger:      logger,
		cfg:         cfg,
		rateLimiter: NewRateLimiter(cfg.MaxConcurrentOps),
		onEnqueue:   func() {},
		gens:        make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// StartMessage возвращает приветствие.
func (u *RenameUsecase) StartMessage() string {
	return u.cfg.StartMessage
}

// QueueLength возвращает число документов в очереди.
func (u *RenameUsecase) QueueLength() int {
	return u.queue.Len()
}

// Upload ставит PDF в очередь. Ответ об ошибке обработки позже уйдет в source.
func (u *RenameUsecase) Upload(ctx context.Context, chatID int64, source domain.Delivery, payload []byte, fileName string) (string, error) {
	if http.DetectContentType(payload) != "application/pdf" {
		u.logger.Warn("отклонен документ не в формате PDF",
			zap.Int64("chat_id", chatID),
			zap.String("file_name", fileName),
		)
		return "", domain.ErrNotPDF
	}

	item := u.queue.Enqueue(domain.QueueItem{
		ChatID:   chatID,
		Source:   source,
		Payload:  payload,
		FileName: fileName,
	})
	u.onEnqueue()

	u.logger.Info("получен PDF",
		zap.Int64("chat_id", chatID),
		zap.String("file_name", fileName),
		zap.Uint64("seq", item.Seq),
		zap.Int("queue_size", u.queue.Len()),
	)
	return fmt.Sprintf("PDF %s added to queue. Use /rename to process.", fileName), nil
}

// Rename обрабатывает очередь шаблоном чата и отправляет результаты в delivery.
func (u *RenameUsecase) Rename(ctx context.Context, chatID int64, delivery domain.Delivery) RenameResult {
	format := u.Format(ctx, chatID)

	report := u.drainer.DrainReport(ctx, processor.DrainRequest{
		Workers:  u.cfg.Workers,
		Template: format,
		Target:   domain.Target{ChatID: chatID, Delivery: delivery},
	})

	u.logger.Info("очередь обработана",
		zap.Int64("chat_id", chatID),
		zap.Int("processed", report.Submitted),
		zap.Int("failed", report.Failed),
	)
	return RenameResult{
		Processed: report.Submitted,
		Message:   fmt.Sprintf("Processed %d PDF(s).", report.Submitted),
		Report:    report,
	}
}

// Format возвращает шаблон чата. Ошибка хранилища не фатальна:
// используется шаблон по умолчанию.
func (u *RenameUsecase) Format(ctx context.Context, chatID int64) string {
	key := formatCacheKey(chatID)

	if cached, ok := u.cache.Get(ctx, key); ok {
		if format, ok := cached.(string); ok {
			u.logger.Debug("попадание в кэш", zap.Int64("chat_id", chatID))
			return format
		}
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		u.logger.Warn("превышен лимит запросов, используем шаблон по умолчанию", zap.Error(err))
		return u.cfg.DefaultFormat
	}
	defer u.rateLimiter.Release()

	gen := u.generation(chatID)
	format, err := u.formats.GetFormat(ctx, chatID)
	if err != nil || format == "" {
		u.logger.Warn("не удалось получить шаблон, используем шаблон по умолчанию",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
		return u.cfg.DefaultFormat
	}

	// Кэш не критичен, кладем в фоне.
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		cacheCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := u.cache.Set(cacheCtx, key, format); err != nil {
			u.logger.Warn("не удалось закэшировать шаблон", zap.Int64("chat_id", chatID), zap.Error(err))
			return
		}
		// SetFormat успел сменить шаблон, пока мы читали: убираем устаревшую запись
		if u.generation(chatID) != gen {
			if err := u.cache.Delete(cacheCtx, key); err != nil {
				u.logger.Warn("не удалось удалить устаревший шаблон из кэша", zap.Int64("chat_id", chatID), zap.Error(err))
			}
		}
	}()
	return format
}

// SetFormat сохраняет шаблон чата. Для пустого шаблона возвращает подсказку
// и domain.ErrEmptyFormat.
func (u *RenameUsecase) SetFormat(ctx context.Context, chatID int64, format string) (string, error) {
	format = strings.Join(strings.Fields(format), " ")
	if format == "" {
		return FormatHint, domain.ErrEmptyFormat
	}

	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return "", fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.rateLimiter.Release()

	if err := u.formats.SaveFormat(ctx, chatID, format); err != nil {
		u.logger.Error("ошибка сохранения шаблона", zap.Int64("chat_id", chatID), zap.Error(err))
		return "", fmt.Errorf("save format: %w", err)
	}

	// Инвалидируем синхронно, чтобы следующий rename увидел новый шаблон.
	u.bumpGeneration(chatID)
	if err := u.cache.Delete(ctx, formatCacheKey(chatID)); err != nil {
		u.logger.Warn("не удалось очистить кэш", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	u.logger.Info("шаблон сохранен", zap.Int64("chat_id", chatID), zap.String("format", format))
	return "Filename format set to: " + format, nil
}

// Previews возвращает сохраненные превью чата.
func (u *RenameUsecase) Previews(ctx context.Context, chatID int64) ([]domain.Preview, error) {
	if err := u.rateLimiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("превышен лимит запросов: %w", err)
	}
	defer u.rateLimiter.Release()

	previews, err := u.previews.GetPreviews(ctx, chatID)
	if err != nil {
		u.logger.Error("ошибка получения превью", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil, err
	}
	return previews, nil
}

// SendPreviews отправляет каждое превью фотографией с его именем в подписи.
// Если превью нет, отвечает NoPreviewsMessage. Возвращает число отправленных.
func (u *RenameUsecase) SendPreviews(ctx context.Context, chatID int64, delivery domain.Delivery) (int, error) {
	previews, err := u.Previews(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if len(previews) == 0 {
		return 0, delivery.Reply(ctx, NoPreviewsMessage)
	}

	var errs []error
	sent := 0
	for _, p := range previews {
		if err := delivery.SendPhoto(ctx, p.Data, p.Name); err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", p.Name, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Shutdown ждет фоновые записи в кэш.
func (u *RenameUsecase) Shutdown() {
	u.wg.Wait()
	u.logger.Info("бизнес-логика остановлена")
}

func (u *RenameUsecase) generation(chatID int64) uint64 {
	u.genMu.Lock()
	defer u.genMu.Unlock()
	return u.gens[chatID]
}

func (u *RenameUsecase) bumpGeneration(chatID int64) {
	u.genMu.Lock()
	u.gens[chatID]++
	u.genMu.Unlock()
}

func formatCacheKey(chatID int64) string {
	return "format:" + strconv.FormatInt(chatID, 10)
}
