// Package gamemap связывает ядро подземелья с хранилищами: шаблоны,
// комнаты игроков, граф переходов и журнал правок.
package gamemap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultStartTemplate имя шаблона первой комнаты игрока
	DefaultStartTemplate = "First"
	// DefaultLinkRetries сколько раз повторять запись связи или правок после конфликта
	DefaultLinkRetries = 3

	eventSource = "gamemap"
)

// Options зависимости сервиса. Templates и Rooms обязательны.
type Options struct {
	Templates storage.TemplateRepo
	Rooms     storage.RoomRepo
	// Players nil: игроки не отслеживаются (нет начисления добычи и положения)
	Players player.Repository
	// Bus nil: события не публикуются
	Bus     eventbus.Publisher
	Metrics *Metrics
	Picker  *Picker
	Logger  *logging.Logger
	Clock   func() time.Time

	StartTemplate string
	LinkRetries   int
}

// Service операции над подземельями игроков
type Service struct {
	templates     storage.TemplateRepo
	rooms         storage.RoomRepo
	players       player.Repository
	bus           eventbus.Publisher
	metrics       *Metrics
	picker        *Picker
	logger        *logging.Logger
	now           func() time.Time
	newTemplateID func() string
	tracer        trace.Tracer
	locks         *roomLocks

	startTemplate string
	linkRetries   int
}

// NewService создаёт сервис, подставляя значения по умолчанию
func NewService(opts Options) (*Service, error) {
	if opts.Templates == nil || opts.Rooms == nil {
		return nil, errors.New("gamemap: template and room repositories are required")
	}
	s := &Service{
		templates:     opts.Templates,
		rooms:         opts.Rooms,
		players:       opts.Players,
		bus:           opts.Bus,
		metrics:       opts.Metrics,
		picker:        opts.Picker,
		logger:        opts.Logger,
		now:           opts.Clock,
		newTemplateID: uuid.NewString,
		tracer:        otel.Tracer("gamemap"),
		locks:         newRoomLocks(),
		startTemplate: opts.StartTemplate,
		linkRetries:   opts.LinkRetries,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.picker == nil {
		s.picker = NewPicker(time.Now().UnixNano())
	}
	if s.logger == nil {
		s.logger = logging.GetGameMapLogger()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.startTemplate == "" {
		s.startTemplate = DefaultStartTemplate
	}
	if s.linkRetries <= 0 {
		s.linkRetries = DefaultLinkRetries
	}
	return s, nil
}

// StartTemplate имя шаблона первой комнаты
func (s *Service) StartTemplate() string { return s.startTemplate }

// startSpan открывает span операции; end закрывает его и пишет длительность
func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "gamemap."+op, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		s.metrics.opDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
		span.End()
	}
}

// publish отправляет событие; ошибка шины не влияет на результат операции
func (s *Service) publish(ctx context.Context, eventType, correlationID string, payload interface{}) {
	if s.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventSource, eventType, payload)
	if err != nil {
		s.logger.Warn("event %s: %v", eventType, err)
		return
	}
	ev.CorrelationID = correlationID
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish %s: %v", eventType, err)
	}
}

func directionNames(ds []dungeon.Direction) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}

func checkDirection(d dungeon.Direction) error {
	if !d.Valid() {
		return &dungeon.ValidationError{
			Entity: "request",
			Field:  "direction",
			Reason: fmt.Sprintf("unknown direction %q", d),
		}
	}
	return nil
}
