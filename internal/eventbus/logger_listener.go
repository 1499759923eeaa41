package eventbus

import (
	"context"

	"github.com/annel0/grid-dungeon/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента eventbus.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.GetComponentLogger("eventbus")
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Debug("[EventBus] %s %s src=%s corr=%s size=%dB", ev.ID, ev.EventType, ev.Source, ev.CorrelationID, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
