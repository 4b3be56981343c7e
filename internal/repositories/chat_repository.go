package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream/reindexer/v4"
	// Используем cproto (RPC) протокол.
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

const (
	// Пространство имен с настройками чатов и сохраненными превью.
	chatsNamespace = "chats"

	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

var errNoConnection = errors.New("нет доступного соединения с БД")

// HealthStatus хранит текущее состояние подключения к базе.
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int
}

// ChatRepository хранит шаблон имени файла и превью каждого чата в Reindexer.
// Одна запись на чат, ключ: chat_id.
type ChatRepository struct {
	dsn           string
	defaultFormat string
	logger        *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer   // Главное соединение
	connections []*reindexer.Reindexer // Пул дополнительных соединений
	poolSize    int
	next        atomic.Uint32 // round-robin по пулу

	// Чтение-изменение-запись одной записи чата должно быть атомарным,
	// иначе параллельные воркеры потеряют превью друг друга.
	writeMu sync.Mutex

	healthStatus atomic.Value // *HealthStatus

	collectionsMu          sync.Mutex
	collectionsInitialized atomic.Bool
}

// NewChatRepository подключается к Reindexer. defaultFormat возвращается
// для чатов, у которых шаблон не задан.
func NewChatRepository(dsn string, maxConnections int, defaultFormat string, logger *zap.Logger) (*ChatRepository, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}

	repo := &ChatRepository{
		dsn:           dsn,
		defaultFormat: defaultFormat,
		logger:        logger,
		poolSize:      maxConnections,
	}
	repo.healthStatus.Store(&HealthStatus{LastCheck: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := repo.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}
	return repo, nil
}

// Connect устанавливает соединения с повторными попытками.
func (r *ChatRepository) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("повторная попытка подключения",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
		if err := db.Ping(); err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("тест соединения провален", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		r.closeAll()
		r.db = db

		r.connections = make([]*reindexer.Reindexer, 0, r.poolSize)
		for i := 0; i < r.poolSize; i++ {
			conn := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
			if err := conn.Ping(); err != nil {
				conn.Close()
				r.logger.Warn("не удалось создать соединение в пуле", zap.Int("index", i), zap.Error(err))
				continue
			}
			r.connections = append(r.connections, conn)
		}

		r.updateHealthStatus(true, nil, len(r.connections)+1)
		r.logger.Info("успешно подключились к Reindexer", zap.Int("pool_size", len(r.connections)))
		return nil
	}

	r.updateHealthStatus(false, lastErr, 0)
	return fmt.Errorf("не удалось подключиться после %d попыток: %w", defaultMaxRetries, lastErr)
}

// getConnection возвращает соединение из пула по кругу.
func (r *ChatRepository) getConnection() *reindexer.Reindexer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.connections) == 0 {
		return r.db
	}
	i := r.next.Add(1) % uint32(len(r.connections))
	return r.connections[i]
}

func (r *ChatRepository) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

// Health возвращает последнее известное состояние подключения.
func (r *ChatRepository) Health() HealthStatus {
	if s, ok := r.healthStatus.Load().(*HealthStatus); ok {
		return *s
	}
	return HealthStatus{}
}

func (r *ChatRepository) markFailure(err error) {
	r.updateHealthStatus(false, err, r.Health().Connections)
}

// EnsureCollections открывает неймспейс chats на всех соединениях.
func (r *ChatRepository) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized.Load() {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	if r.collectionsInitialized.Load() {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return errNoConnection
	}

	opts := reindexer.DefaultNamespaceOptions()
	if err := r.db.OpenNamespace(chatsNamespace, opts, domain.Chat{}); err != nil {
		return fmt.Errorf("ошибка открытия неймспейса: %w", err)
	}
	for i, conn := range r.connections {
		if err := conn.OpenNamespace(chatsNamespace, opts, domain.Chat{}); err != nil {
			r.logger.Warn("ошибка открытия неймспейса для соединения из пула",
				zap.Int("index", i),
				zap.Error(err),
			)
		}
	}

	r.collectionsInitialized.Store(true)
	r.logger.Info("коллекции инициализированы", zap.String("namespace", chatsNamespace))
	return nil
}

// getChat читает запись чата. Отсутствующая запись не ошибка, а found=false.
func (r *ChatRepository) getChat(ctx context.Context, chatID int64) (chat *domain.Chat, found bool, err error) {
	if err := r.EnsureCollections(ctx); err != nil {
		return nil, false, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}

	db := r.getConnection()
	if db == nil {
		return nil, false, errNoConnection
	}

	item, found := db.WithContext(ctx).
		Query(chatsNamespace).
		WhereInt64("chat_id", reindexer.EQ, chatID).
		Get()
	if !found {
		return nil, false, nil
	}

	c, ok := item.(*domain.Chat)
	if !ok {
		return nil, false, fmt.Errorf("внутренняя ошибка десериализации: %T", item)
	}
	// Объекты из выборки разделяются с кешем Reindexer, изменяем только копию.
	cp := *c
	cp.Previews = append([]domain.Preview(nil), c.Previews...)
	return &cp, true, nil
}

func (r *ChatRepository) upsert(ctx context.Context, chat *domain.Chat) error {
	db := r.getConnection()
	if db == nil {
		return errNoConnection
	}

	chat.UpdatedAt = time.Now().Unix()
	if err := db.WithContext(ctx).Upsert(chatsNamespace, chat); err != nil {
		r.markFailure(err)
		return fmt.Errorf("ошибка при сохранении чата %d: %w", chat.ChatID, err)
	}
	return nil
}

// GetFormat возвращает шаблон чата или шаблон по умолчанию.
func (r *ChatRepository) GetFormat(ctx context.Context, chatID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	chat, found, err := r.getChat(ctx, chatID)
	if err != nil {
		r.markFailure(err)
		return r.defaultFormat, err
	}
	if !found || chat.FilenameFormat == "" {
		return r.defaultFormat, nil
	}
	return chat.FilenameFormat, nil
}

// SaveFormat сохраняет шаблон чата, не трогая его превью.
func (r *ChatRepository) SaveFormat(ctx context.Context, chatID int64, format string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	chat, found, err := r.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !found {
		chat = &domain.Chat{ChatID: chatID}
	}
	chat.FilenameFormat = format

	if err := r.upsert(ctx, chat); err != nil {
		r.logger.Error("ошибка сохранения шаблона", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

// SavePreview дописывает превью в коллекцию чата. Превью с тем же именем
// добавляется еще раз, а не заменяет старое.
func (r *ChatRepository) SavePreview(ctx context.Context, chatID int64, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	chat, found, err := r.getChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !found {
		chat = &domain.Chat{ChatID: chatID}
	}
	chat.Previews = append(chat.Previews, domain.Preview{Name: name, Data: data})

	if err := r.upsert(ctx, chat); err != nil {
		r.logger.Error("ошибка сохранения превью",
			zap.Int64("chat_id", chatID),
			zap.String("name", name),
			zap.Error(err),
		)
		return err
	}
	r.logger.Debug("превью сохранено", zap.Int64("chat_id", chatID), zap.String("name", name))
	return nil
}

// GetPreviews возвращает превью чата в порядке сохранения.
func (r *ChatRepository) GetPreviews(ctx context.Context, chatID int64) ([]domain.Preview, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	chat, found, err := r.getChat(ctx, chatID)
	if err != nil {
		r.markFailure(err)
		return nil, err
	}
	if !found {
		return []domain.Preview{}, nil
	}
	return chat.Previews, nil
}

// CheckConnection проверяет связь с базой (для health check'ов).
func (r *ChatRepository) CheckConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return errNoConnection
	}
	if err := db.Ping(); err != nil {
		r.markFailure(err)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}

	r.updateHealthStatus(true, nil, r.Health().Connections)
	return nil
}

// closeAll закрывает все соединения. Вызывается под r.mu.
func (r *ChatRepository) closeAll() {
	if r.db != nil {
		r.db.Close()
		r.db = nil
	}
	for _, conn := range r.connections {
		if conn != nil {
			conn.Close()
		}
	}
	r.connections = nil
}

// Close закрывает все соединения с базой данных.
func (r *ChatRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeAll()
	r.updateHealthStatus(false, errors.New("соединение закрыто"), 0)
	return nil
}

var (
	_ domain.PreferenceStore = (*ChatRepository)(nil)
	_ domain.PreviewStore    = (*ChatRepository)(nil)
	_ domain.HealthChecker   = (*ChatRepository)(nil)
)
