package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/grid-dungeon/internal/eventbus"
	"github.com/annel0/grid-dungeon/internal/logging"
)

// OutboundWebhook подписка внешнего сервиса на события подземелий
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // типы событий или "*"
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent тело запроса, отправляемого webhook'у
type OutboundWebhookEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     int64           `json:"timestamp"`
	ServerID      string          `json:"server_id"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// OutboundWebhookManager пересылает доменные события шины на HTTP-адреса подписчиков
type OutboundWebhookManager struct {
	webhooks   map[uint64]*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	logger     *logging.Logger
	backoff    func(attempt int) time.Duration

	sub       eventbus.Subscription
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewOutboundWebhookManager создает новый менеджер исходящих webhook'ов
func NewOutboundWebhookManager(serverID string) *OutboundWebhookManager {
	manager := &OutboundWebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		eventQueue: make(chan OutboundWebhookEvent, 1000),
		nextID:     1,
		serverID:   serverID,
		logger:     logging.GetComponentLogger(logging.ComponentWebhooks),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}

	manager.wg.Add(1)
	go manager.eventWorker()
	return manager
}

// Attach подписывает менеджер на все события шины
func (owm *OutboundWebhookManager) Attach(ctx context.Context, bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(ctx, eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		owm.SendEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe webhooks: %w", err)
	}
	owm.mu.Lock()
	owm.sub = sub
	owm.mu.Unlock()
	return nil
}

// Close отписывается от шины и дожидается отправки поставленных в очередь событий
func (owm *OutboundWebhookManager) Close() {
	owm.closeOnce.Do(func() {
		owm.mu.Lock()
		if owm.sub != nil {
			owm.sub.Unsubscribe()
		}
		owm.closed = true
		close(owm.eventQueue)
		owm.mu.Unlock()
		owm.wg.Wait()
	})
}

// AddWebhook добавляет новый webhook
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	owm.webhooks[webhook.ID] = &webhook
	cp := webhook
	return &cp
}

// GetWebhooks возвращает список всех webhook'ов по возрастанию id
func (owm *OutboundWebhookManager) GetWebhooks() []OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, *webhook)
	}
	sort.Slice(webhooks, func(i, j int) bool { return webhooks[i].ID < webhooks[j].ID })
	return webhooks
}

// GetWebhook возвращает копию webhook'а по ID
func (owm *OutboundWebhookManager) GetWebhook(id uint64) (OutboundWebhook, bool) {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return OutboundWebhook{}, false
	}
	return *webhook, true
}

// UpdateWebhook обновляет непустые поля webhook'а
func (owm *OutboundWebhookManager) UpdateWebhook(id uint64, updates OutboundWebhook) (OutboundWebhook, bool) {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return OutboundWebhook{}, false
	}

	if updates.Name != "" {
		webhook.Name = updates.Name
	}
	if updates.URL != "" {
		webhook.URL = updates.URL
	}
	if updates.Secret != "" {
		webhook.Secret = updates.Secret
	}
	if len(updates.Events) > 0 {
		webhook.Events = updates.Events
	}
	if updates.Timeout > 0 {
		webhook.Timeout = updates.Timeout
	}
	if updates.RetryCount >= 0 {
		webhook.RetryCount = updates.RetryCount
	}
	webhook.Active = updates.Active

	return *webhook, true
}

// DeleteWebhook удаляет webhook
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	if _, exists := owm.webhooks[id]; !exists {
		return false
	}
	delete(owm.webhooks, id)
	return true
}

// SendEvent ставит событие шины в очередь отправки
func (owm *OutboundWebhookManager) SendEvent(ev *eventbus.Envelope) {
	event := OutboundWebhookEvent{
		EventID:       ev.ID,
		EventType:     ev.EventType,
		Timestamp:     ev.Timestamp.Unix(),
		ServerID:      owm.serverID,
		Source:        ev.Source,
		CorrelationID: ev.CorrelationID,
		Data:          json.RawMessage(ev.Payload),
	}

	owm.mu.RLock()
	defer owm.mu.RUnlock()
	if owm.closed {
		return
	}
	select {
	case owm.eventQueue <- event:
	default:
		owm.logger.Warn("⚠️  Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
	}
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	defer owm.wg.Done()
	for event := range owm.eventQueue {
		owm.processEvent(event)
	}
}

// processEvent доставляет одно событие всем подписанным webhook'ам параллельно
func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	var targets []OutboundWebhook
	for _, webhook := range owm.webhooks {
		if webhook.Active && isSubscribedToEvent(webhook, event.EventType) {
			targets = append(targets, *webhook)
		}
	}
	owm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, webhook := range targets {
		wg.Add(1)
		go func(w OutboundWebhook) {
			defer wg.Done()
			err := owm.sendToWebhook(context.Background(), w, event)
			owm.recordDelivery(w.ID, err)
		}(webhook)
	}
	wg.Wait()
}

// isSubscribedToEvent проверяет, подписан ли webhook на событие
func isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие с повторами; новый запрос на каждую попытку
func (owm *OutboundWebhookManager) sendToWebhook(ctx context.Context, webhook OutboundWebhook, event OutboundWebhookEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for webhook %s: %w", webhook.Name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(owm.backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = owm.post(ctx, webhook, event, jsonData)
		if lastErr == nil {
			owm.logger.Debug("✅ Событие %s отправлено в webhook %s", event.EventType, webhook.Name)
			return nil
		}
		owm.logger.Warn("⚠️  Попытка %d/%d для webhook %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, lastErr)
	}
	return lastErr
}

func (owm *OutboundWebhookManager) post(ctx context.Context, webhook OutboundWebhook, event OutboundWebhookEvent, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(webhook.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Grid-Dungeon-Server/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if webhook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(body, webhook.Secret))
	}

	resp, err := owm.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", webhook.Name, resp.StatusCode)
	}
	return nil
}

func (owm *OutboundWebhookManager) recordDelivery(id uint64, err error) {
	owm.mu.Lock()
	defer owm.mu.Unlock()
	webhook, ok := owm.webhooks[id]
	if !ok {
		return
	}
	now := time.Now()
	webhook.LastUsed = &now
	if err != nil {
		webhook.FailureCount++
		owm.logger.Error("❌ webhook %s: %v", webhook.Name, err)
	}
}

// TestWebhook отправляет пробное событие синхронно
func (owm *OutboundWebhookManager) TestWebhook(ctx context.Context, id uint64) error {
	webhook, ok := owm.GetWebhook(id)
	if !ok {
		return errors.New("webhook not found")
	}
	webhook.RetryCount = 0
	err := owm.sendToWebhook(ctx, webhook, OutboundWebhookEvent{
		EventID:   fmt.Sprintf("test-%d", time.Now().UnixNano()),
		EventType: "webhook.test",
		Timestamp: time.Now().Unix(),
		ServerID:  owm.serverID,
		Source:    "api",
		Data:      json.RawMessage(`{"message":"test event"}`),
	})
	owm.recordDelivery(id, err)
	return err
}

// generateSignature генерирует HMAC подпись тела запроса
func generateSignature(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет заголовок X-Webhook-Signature на стороне получателя
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(body, secret)), []byte(signature))
}

// GetEventTypes возвращает типы событий, на которые можно подписаться
func (owm *OutboundWebhookManager) GetEventTypes() []string {
	return []string{
		eventbus.TypeTemplateCreated,
		eventbus.TypeTemplateDeleted,
		eventbus.TypeRoomCreated,
		eventbus.TypeRoomsLinked,
		eventbus.TypeCellsModified,
	}
}
