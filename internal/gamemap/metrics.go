package gamemap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics метрики сервиса подземелья
type Metrics struct {
	roomsCreated       *prometheus.CounterVec
	linksWritten       prometheus.Counter
	linkConflicts      prometheus.Counter
	edits              *prometheus.CounterVec
	templateSelections *prometheus.CounterVec
	opDuration         *prometheus.HistogramVec
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: без регистрации).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		roomsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dungeon",
			Name:      "rooms_created_total",
			Help:      "Созданные комнаты по причине создания.",
		}, []string{"reason"}),
		linksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dungeon",
			Name:      "links_written_total",
			Help:      "Записанные двусторонние связи между комнатами.",
		}),
		linkConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dungeon",
			Name:      "link_conflicts_total",
			Help:      "Конфликты при записи связей и правок, закончившиеся повтором.",
		}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dungeon",
			Name:      "edits_total",
			Help:      "Правки клеток по результату.",
		}, []string{"outcome"}),
		templateSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dungeon",
			Name:      "template_selections_total",
			Help:      "Выборы случайного шаблона по направлению выхода.",
		}, []string{"direction"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dungeon",
			Name:      "operation_duration_seconds",
			Help:      "Длительность операций сервиса.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.roomsCreated, m.linksWritten, m.linkConflicts,
			m.edits, m.templateSelections, m.opDuration)
	}
	return m
}

func (m *Metrics) editReport(applied, failed, skipped int) {
	m.edits.WithLabelValues("applied").Add(float64(applied))
	m.edits.WithLabelValues("failed").Add(float64(failed))
	m.edits.WithLabelValues("skipped").Add(float64(skipped))
}
