package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-engine/internal/config"
	"github.com/annel0/voxel-engine/internal/eventbus"
	"github.com/annel0/voxel-engine/internal/logging"
	"github.com/annel0/voxel-engine/internal/observability"
	"github.com/annel0/voxel-engine/internal/storage"
	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world"
	"github.com/annel0/voxel-engine/internal/world/block"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (или ENV VOXEL_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🌍 Запуск Voxel Engine...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	logging.Info("📡 Конфигурация: ребро чанка=%d, бюджет=%d, сид=%d, данные=%q",
		cfg.World.ChunkEdge, cfg.World.ChunkBudget, cfg.World.Seed, cfg.World.DataPath)

	ctx := context.Background()

	// OpenTelemetry: спаны загрузки чанков уходят в OTLP коллектор.
	// Отсутствие коллектора не мешает работе движка.
	shutdownTelemetry, err := observability.InitTelemetry(ctx, "voxel-engine")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	var jetBus *eventbus.JetStreamBus
	if cfg.EventBus.URL != "" {
		stream := cfg.EventBus.Stream
		if stream == "" {
			stream = "WORLD"
		}
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		jetBus, err = eventbus.NewJetStreamBus(cfg.EventBus.URL, stream, retention)
		if err != nil {
			logging.Error("❌ Ошибка подключения к NATS: %v", err)
			log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
		}
		bus = jetBus
		logging.Info("✅ Шина событий: NATS JetStream (%s, stream=%s)", cfg.EventBus.URL, stream)
	} else {
		bus = eventbus.NewMemoryBus(cfg.EventBus.Buffer)
		logging.Info("✅ Шина событий: in-memory (буфер %d)", cfg.EventBus.Buffer)
	}

	// Экспорт метрик шины и мира в Prometheus
	metricsExporter := eventbus.NewMetricsExporter(bus)
	metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.GetMetricsPort())
	metricsExporter.StartHTTP(metricsAddr)
	logging.Info("📊 Метрики Prometheus: http://localhost%s/metrics", metricsAddr)

	// === РЕГИСТР БЛОКОВ ===
	registry := block.DefaultBlocks().Build()
	logging.Info("🧱 Регистр блоков: %d типов", registry.Len())

	// === ПЕРСИСТЕНТНОСТЬ ===
	var repo world.ChunkRepo
	if cfg.World.DataPath != "" {
		ws, err := storage.NewWorldStorage(cfg.World.DataPath)
		if err != nil {
			logging.Error("❌ Ошибка открытия хранилища мира: %v", err)
			log.Fatalf("❌ Ошибка открытия хранилища мира: %v", err)
		}
		repo = ws
		logging.Info("💾 Хранилище мира: BadgerDB (%s)", cfg.World.DataPath)
	} else {
		logging.Warn("⚠️ Персистентность отключена: мир живёт только в памяти")
	}

	// === ЯДРО МИРА ===
	generator, err := world.NewPerlinGenerator(cfg.World.Seed, cfg.World.ChunkEdge, registry)
	if err != nil {
		logging.Error("❌ Ошибка создания генератора: %v", err)
		log.Fatalf("❌ Ошибка создания генератора: %v", err)
	}

	publisher := world.NewEventPublisher(bus, "world")
	store, err := world.NewChunkStore(generator, repo, world.StoreOptions{
		Edge:   cfg.World.ChunkEdge,
		Budget: cfg.World.ChunkBudget,
		Events: publisher,
	})
	if err != nil {
		logging.Error("❌ Ошибка создания хранилища чанков: %v", err)
		log.Fatalf("❌ Ошибка создания хранилища чанков: %v", err)
	}

	accessor := world.NewAccessor(store, registry, publisher)

	// Прогреваем стартовый регион вокруг точки появления
	spawnMin := vec.Vec3{X: -2, Y: 0, Z: -2}
	spawnMax := vec.Vec3{X: 2, Y: 3, Z: 2}
	if err := accessor.EnsureRegion(ctx, spawnMin, spawnMax); err != nil {
		logging.Error("❌ Ошибка загрузки стартового региона: %v", err)
		log.Fatalf("❌ Ошибка загрузки стартового региона: %v", err)
	}

	logging.Info("✅ Мир готов: %d резидентных чанков, сессия %s",
		store.ResidentCount(), accessor.SessionID())

	// Ждём сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Close(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка сохранения мира при остановке: %v", err)
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			logging.Error("❌ Ошибка закрытия хранилища: %v", err)
		}
	}

	metricsExporter.Stop()
	if jetBus != nil {
		if err := jetBus.Close(); err != nil {
			logging.Error("❌ Ошибка закрытия шины событий: %v", err)
		}
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Warn("⚠️ Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
