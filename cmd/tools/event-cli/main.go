package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/voxel-engine/internal/eventbus"
	"github.com/annel0/voxel-engine/internal/world"
)

const defaultNatsURL = "nats://localhost:4222"

// event-cli подписывается на шину событий мира и выводит их в консоль —
// аналог tail -f для chunk_loaded / chunk_unloaded / block_changed.
func main() {
	var (
		natsURL    = flag.String("nats", defaultNatsURL, "NATS server URL")
		stream     = flag.String("stream", "WORLD", "JetStream stream name")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Source filter (comma-separated)")
		statsEvery = flag.Duration("stats", 0, "Print bus stats every interval (0 - disabled)")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к NATS %s: %v", *natsURL, err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	filter := eventbus.Filter{
		Types:   parseStringList(*eventTypes),
		Sources: parseStringList(*sources),
	}

	sub, err := bus.Subscribe(ctx, filter, func(ctx context.Context, ev *eventbus.Envelope) {
		printEvent(ev)
	})
	if err != nil {
		log.Fatalf("❌ Ошибка подписки: %v", err)
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Слушаем события мира (%s, stream=%s)...\n", *natsURL, *stream)

	if *statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s := bus.Metrics()
					fmt.Printf("📊 published=%d consumed=%d dropped=%d in_flight=%d\n",
						s.Published, s.Consumed, s.Dropped, s.InFlight)
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\n👋 Остановлено")
}

// printEvent выводит событие в читаемом формате.
func printEvent(ev *eventbus.Envelope) {
	timestamp := ev.Timestamp.Local().Format("15:04:05")
	fmt.Printf("[%s] %s [%s] %s\n", timestamp, ev.Source, ev.EventType, ev.ID)

	switch ev.EventType {
	case world.EventChunkLoaded, world.EventChunkUnloaded:
		var p world.ChunkEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			fmt.Printf("  Чанк: (%d,%d,%d) источник=%s saved=%v v=%d\n",
				p.Coords.X, p.Coords.Y, p.Coords.Z, p.Source, p.Saved, p.Version)
		}
	case world.EventBlockChanged:
		var p world.BlockEventPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			fmt.Printf("  Блок: (%d,%d,%d) %d -> %d сессия=%s\n",
				p.Pos.X, p.Pos.Y, p.Pos.Z, p.Previous, p.Current, p.Session)
		}
	}
}

// parseStringList парсит строку с разделителями-запятыми.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
