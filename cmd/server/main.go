package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/annel0/grid-dungeon/internal/api"
	"github.com/annel0/grid-dungeon/internal/auth"
	"github.com/annel0/grid-dungeon/internal/cache"
	"github.com/annel0/grid-dungeon/internal/config"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/gamemap"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/observability"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/annel0/grid-dungeon/internal/templategen"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: $DUNGEON_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer closeLogs()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		closeLogs()
		os.Exit(1)
	}
}

func closeLogs() {
	if err := logging.CloseAll(); err != nil {
		log.Printf("⚠️  %v", err)
	}
	logging.CloseDefaultLogger()
}

func setupLogging(cfg *config.Config) error {
	consoleLevel, err := logging.ParseLevel(cfg.Logging.GetConsoleLevel())
	if err != nil {
		return err
	}
	fileLevel, err := logging.ParseLevel(cfg.Logging.GetFileLevel())
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{
		Dir:          cfg.Logging.GetDir(),
		ConsoleLevel: consoleLevel,
		FileLevel:    fileLevel,
	})
	return logging.InitDefaultLogger()
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info("🎮 Запуск Grid Dungeon Server %s...", version)
	nodeID := uuid.NewString()
	reg := prometheus.DefaultRegisterer

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry := observability.ShutdownFunc(observability.Noop)
	if cfg.Telemetry.GetEnabled() {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.GetServiceName(), version)
		if err != nil {
			logging.Warn("⚠️  Трассировка отключена: %v", err)
		} else {
			shutdownTelemetry = shutdown
			logging.Info("✅ OpenTelemetry трассировка включена")
		}
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("Ошибка остановки трассировки: %v", err)
		}
	}()

	// === ХРАНИЛИЩЕ ШАБЛОНОВ И КОМНАТ ===
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var templates storage.TemplateRepo = store
	var templateCache *cache.TemplateCache
	if cfg.Cache.GetEnabled() {
		tc, closeCache, err := openTemplateCache(ctx, cfg, store, nodeID)
		if err != nil {
			return err
		}
		defer closeCache()
		templates = tc
		templateCache = tc
	}

	// === ИГРОКИ И ДИЗАЙНЕРЫ ===
	players, err := openPlayers(cfg)
	if err != nil {
		return err
	}
	if c, ok := players.(io.Closer); ok {
		defer c.Close()
	}

	userRepo, err := openUserRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer userRepo.Close()

	created, err := auth.EnsureAdmin(ctx, userRepo, cfg.Auth.GetAdminUser(), cfg.Auth.GetAdminPassword())
	if err != nil {
		return err
	}
	if created {
		logging.Info("👤 Создан администратор %s", cfg.Auth.GetAdminUser())
	} else if cfg.Auth.GetAdminPassword() == "" {
		logging.Warn("⚠️  DUNGEON_ADMIN_PASSWORD не задан, администратор не создаётся")
	}

	secret, err := cfg.Auth.GetJWTSecret()
	if err != nil {
		return err
	}
	if secret == nil {
		logging.Warn("⚠️  JWT секрет не задан, токены будут недействительны после перезапуска")
	}
	issuer, err := auth.NewTokenIssuer(secret, 0)
	if err != nil {
		return err
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openEventBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		return err
	}
	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start()
	defer exporter.Stop()

	// === ПОДЗЕМЕЛЬЕ ===
	seed := cfg.Dungeon.GetSeed()
	service, err := gamemap.NewService(gamemap.Options{
		Templates:     templates,
		Rooms:         store,
		Players:       players,
		Bus:           bus,
		Metrics:       gamemap.NewMetrics(reg),
		Picker:        gamemap.NewPicker(seed),
		StartTemplate: cfg.Dungeon.GetStartTemplate(),
		LinkRetries:   cfg.Dungeon.GetLinkRetries(),
	})
	if err != nil {
		return err
	}

	if cfg.Dungeon.GetSeedTemplates() {
		gen, err := templategen.NewGenerator(seed, cfg.Dungeon.GetRoomWidth(), cfg.Dungeon.GetRoomHeight())
		if err != nil {
			return err
		}
		n, err := templategen.SeedTemplates(ctx, service, gen, service.StartTemplate())
		if err != nil {
			return err
		}
		if n > 0 {
			logging.Info("🧱 Создано %d стартовых шаблонов (seed %d)", n, seed)
		}
	}

	// === REST API ===
	webhooks := api.NewOutboundWebhookManager(nodeID)
	defer webhooks.Close()
	if err := webhooks.Attach(ctx, bus); err != nil {
		return err
	}

	rest, err := api.NewRestServer(api.Config{
		Port:       fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Service:    service,
		UserRepo:   userRepo,
		Issuer:     issuer,
		Version:    version,
		Registerer: reg,
		Webhooks:   webhooks,
		Cache:      templateCache,
	})
	if err != nil {
		return err
	}

	httpServer := api.NewHTTPServer(rest)
	if err := httpServer.Start(); err != nil {
		return err
	}

	logging.Info("✅ Сервер запущен")
	logging.Info("   🌐 REST API: http://%s", httpServer.Addr())
	logging.Info("   ❤️  Health check: http://%s/health", httpServer.Addr())
	logging.Info("   📊 Метрики: http://%s/metrics", httpServer.Addr())

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case err := <-httpServer.Errors():
		logging.Error("❌ REST API остановился: %v", err)
	}

	// === GRACEFUL SHUTDOWN ===
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer stopCancel()
	if err := httpServer.Stop(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch backend := cfg.Storage.GetBackend(); backend {
	case config.BackendMongo:
		logging.Info("🗄️  Хранилище подземелий: MongoDB %s", cfg.Storage.GetMongoDatabase())
		return storage.NewMongoStore(storage.MongoConfig{
			URI:             cfg.Storage.GetMongoURI(),
			Database:        cfg.Storage.GetMongoDatabase(),
			UseTransactions: cfg.Storage.GetUseTransactions(),
		})
	case config.BackendBadger:
		logging.Info("🗄️  Хранилище подземелий: BadgerDB %s", cfg.Storage.GetBadgerPath())
		return storage.NewBadgerStore(storage.BadgerConfig{Path: cfg.Storage.GetBadgerPath()})
	case config.BackendMemory:
		logging.Warn("⚠️  Хранилище подземелий в памяти, данные не сохраняются")
		return storage.NewMemoryStore(), nil
	default:
		return nil, unknownBackend("storage.backend", backend)
	}
}

// openTemplateCache кеш шаблонов: Redis общий уровень, NATS рассылка инвалидаций
func openTemplateCache(ctx context.Context, cfg *config.Config, backing storage.TemplateRepo, nodeID string) (*cache.TemplateCache, func(), error) {
	redis, err := cache.NewRedisCache(&cache.CacheConfig{
		RedisURL:      cfg.Cache.GetRedisAddr(),
		RedisPassword: cfg.Cache.GetRedisPassword(),
		RedisDB:       cfg.Cache.GetRedisDB(),
		DefaultTTL:    cfg.Cache.GetTTL(),
	})
	if err != nil {
		return nil, nil, err
	}
	closers := []io.Closer{redis}

	opts := cache.TemplateCacheOptions{Shared: redis, TTL: cfg.Cache.GetTTL()}
	if url := cfg.Cache.GetNATSURL(); url != "" {
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: url}, nodeID)
		if err != nil {
			redis.Close()
			return nil, nil, err
		}
		opts.Invalidator = inv
		closers = append(closers, inv)
	}

	tc := cache.NewTemplateCache(backing, opts)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}
	if err := tc.Start(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	logging.Info("⚡ Кеш шаблонов: Redis %s", cfg.Cache.GetRedisAddr())
	return tc, closeAll, nil
}

func openPlayers(cfg *config.Config) (player.Repository, error) {
	switch backend := cfg.Players.GetBackend(); backend {
	case config.BackendMaria:
		logging.Info("👥 Игроки: MariaDB %s:%d/%s", cfg.Players.GetHost(), cfg.Players.GetPort(), cfg.Players.GetDatabase())
		return player.NewMariaRepo(mariaDSN(cfg))
	case config.BackendMemory:
		return player.NewMemoryRepo(), nil
	default:
		return nil, unknownBackend("players.backend", backend)
	}
}

// openUserRepo учётные записи дизайнеров живут рядом с игроками или с подземельями
func openUserRepo(ctx context.Context, cfg *config.Config) (auth.UserRepository, error) {
	if cfg.Players.GetBackend() == config.BackendMaria {
		return auth.NewMariaUserRepo(mariaDSN(cfg))
	}
	if cfg.Storage.GetBackend() == config.BackendMongo {
		return auth.NewMongoUserRepo(ctx, auth.MongoConfig{
			URI:      cfg.Storage.GetMongoURI(),
			Database: cfg.Storage.GetMongoDatabase(),
		})
	}
	return auth.NewMemoryUserRepo(), nil
}

func openEventBus(cfg *config.Config) (eventbus.EventBus, error) {
	url := cfg.EventBus.GetURL()
	if url == "" {
		return eventbus.NewMemoryBus(cfg.EventBus.GetBuffer()), nil
	}
	logging.Info("📨 Шина событий: NATS JetStream %s (stream %s)", url, cfg.EventBus.GetStream())
	return eventbus.NewJetStreamBus(url, cfg.EventBus.GetStream(), cfg.EventBus.GetRetention())
}

func mariaDSN(cfg *config.Config) string {
	return player.DSN(cfg.Players.GetUser(), cfg.Players.GetPassword(),
		cfg.Players.GetHost(), cfg.Players.GetPort(), cfg.Players.GetDatabase())
}

func unknownBackend(field, value string) error {
	return fmt.Errorf("%s: неизвестный backend %q", field, value)
}
