package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/broker"
	"github.com/your-org/autorename/internal/cache"
	"github.com/your-org/autorename/internal/config"
	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/handlers"
	"github.com/your-org/autorename/internal/metrics"
	"github.com/your-org/autorename/internal/middleware"
	"github.com/your-org/autorename/internal/objectstore"
	"github.com/your-org/autorename/internal/outbox"
	"github.com/your-org/autorename/internal/pdf"
	"github.com/your-org/autorename/internal/processor"
	"github.com/your-org/autorename/internal/queue"
	"github.com/your-org/autorename/internal/repositories"
	"github.com/your-org/autorename/internal/usecases"
	"github.com/your-org/autorename/pkg/logger"
)

const (
	// Даем базе время подняться, прежде чем сдаваться.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	healthLogInterval = 30 * time.Second
)

// App держит все зависимости приложения и управляет их жизненным циклом.
type App struct {
	config    *config.Config
	logger    *zap.Logger
	repo      *repositories.ChatRepository
	previews  domain.PreviewStore
	queue     *queue.WorkQueue
	collector *metrics.Collector
	cache     *cache.ShardedCache
	outboxes  *cache.ShardedCache
	usecase   *usecases.RenameUsecase
	server    *http.Server

	amqpConn   *amqp.Connection
	consumer   *broker.Consumer
	deliveryCh *amqp.Channel

	initOnce sync.Once
	initErr  error

	// ctx отменяется при остановке, фоновые задачи ждем через wg
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewApp создает заготовку приложения, настройка делается в Initialize().
func NewApp() *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize настраивает все компоненты один раз.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize собирает приложение снизу вверх:
// конфиг -> логгер -> хранилища -> конвейер -> бизнес-логика -> транспорты.
func (a *App) doInitialize() error {
	// 1. .env не обязателен
	_ = godotenv.Load()

	configPath := os.Getenv("APP_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	configErr := config.Load(configPath)
	if configErr != nil {
		// файла может не быть, тогда работаем на defaults + ENV
		if err := config.Load(""); err != nil {
			return fmt.Errorf("критическая ошибка конфигурации: %w", err)
		}
	}
	a.config = config.Get()

	// 2. Логгер
	if err := logger.Init(a.config.Log.Level, a.config.Log.Development); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	a.logger = logger.Get()
	if configErr != nil {
		a.logger.Warn("конфиг-файл не загружен, используем значения по умолчанию и ENV",
			zap.String("path", configPath),
			zap.Error(configErr),
		)
	}
	a.logger.Info("конфигурация загружена",
		zap.String("addr", a.config.Server.Addr()),
		zap.Int("max_workers", a.config.Processing.MaxWorkers),
		zap.String("previews", a.config.Storage.Previews),
		zap.Bool("amqp", a.config.AMQP.Enabled),
	)

	// 3. Reindexer: шаблоны чатов и (по умолчанию) превью
	if err := a.initializeRepository(); err != nil {
		return fmt.Errorf("ошибка инициализации репозитория: %w", err)
	}

	// 4. Хранилище превью
	if err := a.initializePreviewStore(); err != nil {
		return fmt.Errorf("ошибка инициализации хранилища превью: %w", err)
	}

	// 5. Конвейер: очередь, извлечение метаданных, превью, пул воркеров
	a.queue = queue.New()
	a.collector = metrics.NewCollector(a.queue.Len)

	renderer := pdf.NewPreviewRenderer(pdf.PreviewConfig{
		DPI:     a.config.Processing.PreviewDPI,
		Quality: a.config.Processing.PreviewQuality,
	}, a.logger)
	itemProcessor := processor.NewRenameProcessor(
		pdf.NewMetadataExtractor(a.logger),
		renderer,
		a.previews,
		a.logger,
	)
	dispatcher := processor.NewDispatcher(a.queue, itemProcessor, a.logger,
		processor.WithObserver(a.collector),
	)

	// 6. Кэш шаблонов и почтовые ящики HTTP-клиентов
	a.cache = cache.NewShardedCache(
		a.config.Cache.Shards,
		config.Seconds(a.config.Cache.TTL),
		cache.WithLogger(a.logger),
	)
	a.cache.StartCleanupWorker()

	a.outboxes = cache.NewShardedCache(
		a.config.Cache.Shards,
		config.Seconds(a.config.Outbox.TTL),
		cache.WithLogger(a.logger),
	)
	a.outboxes.StartCleanupWorker()

	// 7. Бизнес-логика
	a.usecase = usecases.NewRenameUsecase(
		a.queue,
		dispatcher,
		a.repo,
		a.previews,
		a.cache,
		a.logger,
		usecases.Config{
			Workers:          a.config.Processing.MaxWorkers,
			DefaultFormat:    a.config.Processing.DefaultFilenameFormat,
			StartMessage:     a.config.Bot.StartMessage,
			MaxConcurrentOps: a.config.Processing.MaxConcurrentOps,
		},
		usecases.WithEnqueueHook(a.collector.Enqueued),
	)

	// 8. HTTP
	a.initializeServer(outbox.New(a.outboxes))

	// 9. RabbitMQ, если включен
	if a.config.AMQP.Enabled {
		if err := a.initializeBroker(); err != nil {
			return fmt.Errorf("ошибка подключения к брокеру: %w", err)
		}
	}

	a.logger.Info("приложение готово к работе")
	return nil
}

// initializeRepository подключается к Reindexer с повторными попытками
// и создает namespace, если его нет.
func (a *App) initializeRepository() error {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("повторная попытка подключения к БД",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", healthCheckRetryDelay),
			)
			time.Sleep(healthCheckRetryDelay)
		}

		repo, initErr := repositories.NewChatRepository(
			a.config.Reindexer.DSN,
			a.config.Reindexer.MaxConnections,
			a.config.Processing.DefaultFilenameFormat,
			a.logger,
		)
		if initErr != nil {
			err = initErr
			a.logger.Warn("не удалось создать клиент репозитория",
				zap.Int("attempt", attempt+1),
				zap.Error(initErr),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ensureErr := repo.EnsureCollections(ctx)
		cancel()
		if ensureErr != nil {
			_ = repo.Close()
			err = ensureErr
			a.logger.Warn("не удалось открыть namespace",
				zap.Int("attempt", attempt+1),
				zap.Error(ensureErr),
			)
			continue
		}

		a.repo = repo
		a.logger.Info("репозиторий инициализирован",
			zap.Int("attempts", attempt+1),
			zap.String("dsn", a.config.Reindexer.DSN),
		)
		return nil
	}

	return fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", healthCheckRetries, err)
}

// initializePreviewStore выбирает, где хранить превью: Reindexer или MinIO.
func (a *App) initializePreviewStore() error {
	if a.config.Storage.Previews != config.PreviewsMinIO {
		a.previews = a.repo
		return nil
	}

	client, err := objectstore.NewClient(objectstore.Config{
		Endpoint:  a.config.MinIO.Endpoint,
		AccessKey: a.config.MinIO.AccessKey,
		SecretKey: a.config.MinIO.SecretKey,
		UseSSL:    a.config.MinIO.UseSSL,
		Bucket:    a.config.MinIO.Bucket,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()
	store, err := objectstore.NewPreviewStore(ctx, client, a.config.MinIO.Bucket, a.logger)
	if err != nil {
		return err
	}
	a.previews = store
	return nil
}

// initializeServer настраивает роутинг и middleware.
func (a *App) initializeServer(mailboxes *outbox.Outbox) {
	chatHandler := handlers.NewChatHandler(a.usecase, mailboxes, a.repo, a.logger)
	rateLimiter := middleware.NewRateLimiter(a.config.Server.RateLimit, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	// метрики без лимитов и логов запросов
	r.Handle("/metrics", a.collector.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))
		r.Use(middleware.MaxBodySize(a.config.Server.MaxUploadBytes))

		chatHandler.Routes(r)
	})

	a.server = &http.Server{
		Addr:        a.config.Server.Addr(),
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		// rename держит запрос, пока очередь не обработана, поэтому без WriteTimeout
		IdleTimeout: 60 * time.Second,
	}
}

// initializeBroker подключается к RabbitMQ: команды читаем из upload_queue,
// результаты публикуем в delivery_queue.
func (a *App) initializeBroker() error {
	conn, err := broker.Dial(a.ctx,
		a.config.AMQP.URL,
		a.config.AMQP.MaxRetries,
		config.Seconds(a.config.AMQP.RetryDelay),
		a.logger,
	)
	if err != nil {
		return err
	}
	a.amqpConn = conn

	publisher, deliveryCh, err := broker.NewPublisher(conn, a.config.AMQP.DeliveryQueue, a.logger)
	if err != nil {
		return err
	}
	a.deliveryCh = deliveryCh

	consumer, err := broker.NewConsumer(conn, a.config.AMQP.UploadQueue, a.usecase, publisher, a.logger)
	if err != nil {
		return err
	}
	a.consumer = consumer
	return nil
}

// StartBackgroundJobs запускает фоновые процессы.
func (a *App) StartBackgroundJobs() {
	a.wg.Add(1)
	go a.periodicHealthCheck()

	if a.consumer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.consumer.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("консьюмер RabbitMQ остановился с ошибкой", zap.Error(err))
			}
		}()
	}
}

// periodicHealthCheck пишет в лог состояние БД и глубину очереди.
func (a *App) periodicHealthCheck() {
	defer a.wg.Done()

	ticker := time.NewTicker(healthLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("фоновая проверка здоровья остановлена")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
			if err := a.repo.CheckConnection(ctx); err != nil {
				a.logger.Warn("фоновая проверка: проблема с БД", zap.Error(err))
			} else {
				a.logger.Debug("фоновая проверка пройдена", zap.Int("queue_size", a.queue.Len()))
			}
			cancel()
		}
	}
}

// Start запускает фоновые задачи и HTTP сервер.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	a.StartBackgroundJobs()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("запуск HTTP сервера", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("сервер упал с ошибкой", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown останавливает прием работы, дожидается текущих запросов
// и закрывает соединения.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("начинаем остановку приложения...")
		timeout := config.Seconds(a.config.Server.ShutdownTimeout)

		// 1. Фоновые задачи и консьюмер
		a.cancel()

		// 2. HTTP: новые запросы не принимаем, текущие доделываем
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("ошибка при остановке сервера", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		// 3. Бизнес-логика
		if a.usecase != nil {
			a.usecase.Shutdown()
		}

		// 4. RabbitMQ
		if a.consumer != nil {
			if err := a.consumer.Close(); err != nil {
				a.logger.Warn("ошибка при закрытии консьюмера", zap.Error(err))
			}
		}
		if a.deliveryCh != nil {
			_ = a.deliveryCh.Close()
		}
		if a.amqpConn != nil {
			if err := a.amqpConn.Close(); err != nil {
				a.logger.Warn("ошибка при закрытии соединения с RabbitMQ", zap.Error(err))
			}
		}

		// 5. Уборщики кэшей
		if a.cache != nil {
			a.cache.StopCleanupWorker()
		}
		if a.outboxes != nil {
			a.outboxes.StopCleanupWorker()
		}

		// 6. БД
		if a.repo != nil {
			if err := a.repo.Close(); err != nil {
				a.logger.Error("ошибка при закрытии БД", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		// 7. Ждем горутины
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.logger.Info("все фоновые процессы завершены")
		case <-time.After(timeout):
			a.logger.Warn("таймаут ожидания завершения процессов")
		}

		if q := a.queue; q != nil && q.Len() > 0 {
			a.logger.Warn("в очереди остались необработанные документы", zap.Int("queue_size", q.Len()))
		}

		a.logger.Info("приложение остановлено")
		_ = logger.Sync()
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Фатальная ошибка запуска: %v\n", err)
		os.Exit(1)
	}

	// Ждем SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка при остановке: %v\n", err)
		os.Exit(1)
	}
}
