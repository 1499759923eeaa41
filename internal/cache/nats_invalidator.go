package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator реализует CacheInvalidator поверх NATS Pub/Sub.
// Узел, удаливший шаблон, рассылает ключи, остальные узлы сбрасывают
// их из локального кеша. Собственные сообщения игнорируются.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	mu           sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Дедупликация входящих сообщений
	recentKeys map[string]time.Time
	keysMutex  sync.RWMutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// InvalidationMessage сообщение об инвалидации ключа кеша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// NewNATSInvalidator подключается к NATS. Пустой nodeID заменяется случайным.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.Subject == "" {
		config.Subject = "dungeon.cache.invalidation"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 5 * time.Second
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	opts := []nats.Option{
		nats.Name("grid-dungeon-cache-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logging.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	inv := &NATSInvalidator{
		conn:       conn,
		config:     config,
		subject:    config.Subject,
		nodeID:     nodeID,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}
	inv.startDedupeCleanup()

	logging.Info("NATS invalidator initialized: %s (subject: %s, node: %s)", config.NATSURL, config.Subject, nodeID)
	return inv, nil
}

// PublishInvalidation рассылает ключ и дожидается подтверждения сервера.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	data, err := json.Marshal(&InvalidationMessage{
		Key:       key,
		Timestamp: time.Now().UTC(),
		NodeID:    n.nodeID,
		Reason:    "template_deleted",
	})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.PublishTimeout)
	defer cancel()

	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to flush invalidation: %w", err)
	}

	atomic.AddInt64(&n.publishedCount, 1)
	logging.Debug("Published invalidation for key: %s", key)
	return nil
}

// SubscribeInvalidations подписывается на инвалидации других узлов.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription != nil {
		return errors.New("already subscribed to invalidations")
	}

	n.handler = handler
	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	logging.Info("Subscribed to cache invalidations on subject: %s", n.subject)
	return nil
}

// Close отписывается и закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.unsubscribe()
		n.conn.Close()
		logging.Info("NATS invalidator closed")
	})
	return nil
}

// GetMetrics возвращает счётчики invalidator.
func (n *NATSInvalidator) GetMetrics() *InvalidatorMetrics {
	return &InvalidatorMetrics{
		Published: atomic.LoadInt64(&n.publishedCount),
		Received:  atomic.LoadInt64(&n.receivedCount),
		Errors:    atomic.LoadInt64(&n.errorsCount),
		Connected: n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if m.NodeID == n.nodeID {
		return
	}
	if n.isDuplicate(m.Key) {
		logging.Debug("Ignoring duplicate invalidation for key: %s", m.Key)
		return
	}
	n.recordKey(m.Key)

	n.mu.Lock()
	handler := n.handler
	n.mu.Unlock()
	if handler == nil {
		return
	}
	if err := handler(m.Key); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Invalidation handler failed for key %s: %v", m.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		logging.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

func (n *NATSInvalidator) isDuplicate(key string) bool {
	n.keysMutex.RLock()
	defer n.keysMutex.RUnlock()

	lastSeen, exists := n.recentKeys[key]
	return exists && time.Since(lastSeen) < n.config.DedupeWindow
}

func (n *NATSInvalidator) recordKey(key string) {
	n.keysMutex.Lock()
	n.recentKeys[key] = time.Now()
	n.keysMutex.Unlock()
}

// startDedupeCleanup периодически чистит окно дедупликации.
func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.keysMutex.Lock()
				now := time.Now()
				for key, ts := range n.recentKeys {
					if now.Sub(ts) > n.config.DedupeWindow {
						delete(n.recentKeys, key)
					}
				}
				n.keysMutex.Unlock()
			case <-n.stopCh:
				return
			}
		}
	}()
}
