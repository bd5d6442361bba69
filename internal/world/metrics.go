package world

import (
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics инкапсулирует Prometheus-метрики ChunkStore.
//
// Метрики:
// * world_chunks_resident — gauge, число резидентных чанков
// * world_chunk_loads_total{source} — counter, source=storage|generator
// * world_chunk_load_failures_total — counter
// * world_chunk_evictions_total — counter
// * world_chunk_saves_total — counter
// * world_chunk_load_duration_seconds — histogram
type storeMetrics struct {
	resident     prometheus.Gauge
	loads        *prometheus.CounterVec
	loadFailures prometheus.Counter
	evictions    prometheus.Counter
	saves        prometheus.Counter
	loadDuration prometheus.Histogram
}

// newStoreMetrics создаёт метрики и регистрирует их в указанном регистре.
// Тесты передают собственный prometheus.NewRegistry, чтобы избежать
// конфликтов повторной регистрации.
func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	sm := &storeMetrics{
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "world",
			Name:      "chunks_resident",
			Help:      "Число чанков, находящихся в памяти.",
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "chunk_loads_total",
			Help:      "Общее число загрузок чанков по источнику.",
		}, []string{"source"}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "chunk_load_failures_total",
			Help:      "Число неудачных загрузок чанков.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "chunk_evictions_total",
			Help:      "Число чанков, выгруженных по превышению бюджета.",
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "world",
			Name:      "chunk_saves_total",
			Help:      "Число сохранений чанков в хранилище.",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "world",
			Name:      "chunk_load_duration_seconds",
			Help:      "Длительность загрузки чанка (хранилище или генерация).",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}

	reg.MustRegister(sm.resident, sm.loads, sm.loadFailures, sm.evictions, sm.saves, sm.loadDuration)
	return sm
}
