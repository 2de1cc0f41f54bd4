package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// NotificationKind classifies operator notifications.
type NotificationKind string

const (
	NotifyThreat     NotificationKind = "THREAT"
	NotifyPause      NotificationKind = "PAUSE"
	NotifyPauseError NotificationKind = "PAUSE_FAILED"
	NotifyDisconnect NotificationKind = "MONITOR_DISCONNECTED"
	NotifyReconnect  NotificationKind = "MONITOR_RECONNECTED"
)

// Notification is what operators receive on the console and on webhooks.
type Notification struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	Level      ThreatLevel      `json:"level"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Contract   string           `json:"contract,omitempty"`
	TxHash     string           `json:"txHash,omitempty"`
	VulnRef    string           `json:"vulnRef,omitempty"`
	ErrorClass string           `json:"errorClass,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// WebhookDelivery is one notification bound for one URL.
type WebhookDelivery struct {
	ID           string       `json:"id"`
	URL          string       `json:"url"`
	Notification Notification `json:"notification"`
	CreatedAt    time.Time    `json:"created_at"`
	Attempts     int          `json:"attempts"`
	LastError    string       `json:"last_error,omitempty"`
	Status       string       `json:"status"` // "pending", "delivered", "dead_letter"
}

// DeadLetterEntry is a failed delivery kept for inspection.
type DeadLetterEntry struct {
	Delivery  WebhookDelivery `json:"delivery"`
	FailedAt  time.Time       `json:"failed_at"`
	LastError string          `json:"last_error"`
}

// WebhookRetryConfig controls retry behavior.
type WebhookRetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	Workers        int           `yaml:"workers" json:"workers"`
	CircuitBreaker int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitPause   time.Duration `yaml:"circuit_pause" json:"circuit_pause"`
}

// DefaultWebhookRetryConfig returns sane defaults.
func DefaultWebhookRetryConfig() WebhookRetryConfig {
	return WebhookRetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		QueueSize:      1000,
		Workers:        4,
		CircuitBreaker: 5,
		CircuitPause:   60 * time.Second,
	}
}

// errPermanent marks a delivery failure that retrying cannot fix.
var errPermanent = errors.New("permanent delivery failure")

// Notifier fans notifications out to the console log and to webhooks. Webhook
// delivery is asynchronous with exponential backoff, a dead letter buffer and
// one circuit breaker per URL.
type Notifier struct {
	logger     zerolog.Logger
	cfg        WebhookRetryConfig
	urls       []string
	console    bool
	template   NotificationTemplate
	client     *http.Client
	queue      chan *WebhookDelivery
	deadLetter []*DeadLetterEntry
	dlMu       sync.RWMutex
	maxDL      int

	cbMu     sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier with background delivery workers.
func NewNotifier(cfg NotifyConfig, logger zerolog.Logger) *Notifier {
	rc := cfg.Retry
	if rc.QueueSize <= 0 {
		rc.QueueSize = 1000
	}
	if rc.Workers <= 0 {
		rc.Workers = 4
	}
	if rc.CircuitBreaker <= 0 {
		rc.CircuitBreaker = 5
	}
	tmpl := GetNotificationTemplate(cfg.Template, cfg.RoutingKey)
	if tmpl == nil {
		tmpl = &GenericTemplate{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		logger:   logger.With().Str("component", "notifier").Logger(),
		cfg:      rc,
		urls:     cfg.WebhookURLs,
		console:  cfg.EnableConsole,
		template: tmpl,
		client:   &http.Client{Timeout: 15 * time.Second},
		queue:    make(chan *WebhookDelivery, rc.QueueSize),
		maxDL:    500,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		ctx:      ctx,
		cancel:   cancel,
	}

	if len(n.urls) > 0 {
		for i := 0; i < rc.Workers; i++ {
			n.wg.Add(1)
			go n.worker()
		}
		n.logger.Info().Int("workers", rc.Workers).Int("webhooks", len(n.urls)).Msg("webhook delivery started")
	}
	return n
}

// Notify stamps the notification and hands it to every channel.
func (n *Notifier) Notify(note Notification) Notification {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now().UTC()
	}

	if n.console {
		ev := n.logger.Info()
		if note.Level >= LevelHigh || note.Kind == NotifyPauseError {
			ev = n.logger.Warn()
		}
		ev.Str("kind", string(note.Kind)).
			Str("level", note.Level.String()).
			Str("contract", note.Contract).
			Str("tx", note.TxHash).
			Str("error_class", note.ErrorClass).
			Msg(note.Title + ": " + note.Message)
	}

	for _, url := range n.urls {
		n.enqueue(url, note)
	}
	return note
}

func (n *Notifier) enqueue(url string, note Notification) {
	delivery := &WebhookDelivery{
		ID:           uuid.New().String(),
		URL:          url,
		Notification: note,
		CreatedAt:    time.Now().UTC(),
		Status:       "pending",
	}
	select {
	case n.queue <- delivery:
	default:
		n.logger.Warn().Str("url", url).Msg("webhook queue full, delivery dropped")
		n.addDeadLetter(delivery, "queue full")
	}
}

// DeadLetters returns up to limit failed deliveries, oldest first.
func (n *Notifier) DeadLetters(limit int) []DeadLetterEntry {
	n.dlMu.RLock()
	defer n.dlMu.RUnlock()
	if limit <= 0 || limit > len(n.deadLetter) {
		limit = len(n.deadLetter)
	}
	out := make([]DeadLetterEntry, 0, limit)
	for _, dl := range n.deadLetter[len(n.deadLetter)-limit:] {
		out = append(out, *dl)
	}
	return out
}

// Stats returns delivery statistics.
func (n *Notifier) Stats() map[string]interface{} {
	n.dlMu.RLock()
	dlCount := len(n.deadLetter)
	n.dlMu.RUnlock()

	n.cbMu.Lock()
	open := 0
	for _, cb := range n.breakers {
		if cb.State() == gobreaker.StateOpen {
			open++
		}
	}
	n.cbMu.Unlock()

	return map[string]interface{}{
		"queue_depth":    len(n.queue),
		"queue_capacity": n.cfg.QueueSize,
		"dead_letters":   dlCount,
		"open_circuits":  open,
		"webhooks":       len(n.urls),
	}
}

// Stop shuts down the delivery workers.
func (n *Notifier) Stop() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case delivery := <-n.queue:
			n.deliver(delivery)
		}
	}
}

func (n *Notifier) breaker(url string) *gobreaker.CircuitBreaker {
	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	if cb, ok := n.breakers[url]; ok {
		return cb
	}
	threshold := uint32(n.cfg.CircuitBreaker)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook:" + url,
		MaxRequests: 1,
		Timeout:     n.cfg.CircuitPause,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Client errors say nothing about the endpoint's health.
			return err == nil || errors.Is(err, errPermanent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("webhook circuit breaker state changed")
		},
	})
	n.breakers[url] = cb
	return cb
}

func (n *Notifier) deliver(delivery *WebhookDelivery) {
	data, err := json.Marshal(n.template.Format(delivery.Notification))
	if err != nil {
		n.addDeadLetter(delivery, fmt.Sprintf("marshal error: %v", err))
		return
	}
	cb := n.breaker(delivery.URL)

	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		delivery.Attempts = attempt + 1
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, n.post(delivery, data)
		})
		if err == nil {
			delivery.Status = "delivered"
			n.logger.Debug().Str("id", delivery.ID).Str("url", delivery.URL).Int("attempts", delivery.Attempts).Msg("webhook delivered")
			return
		}
		delivery.LastError = err.Error()
		if errors.Is(err, errPermanent) || errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
		if attempt < n.cfg.MaxRetries && !n.backoff(attempt) {
			break
		}
	}
	n.addDeadLetter(delivery, delivery.LastError)
}

func (n *Notifier) post(delivery *WebhookDelivery, data []byte) error {
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, delivery.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pauseguard-notifier/1.0")
	req.Header.Set("X-Pauseguard-Delivery-ID", delivery.ID)
	req.Header.Set("X-Pauseguard-Attempt", fmt.Sprintf("%d", delivery.Attempts))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: client error HTTP %d", errPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
}

// backoff waits 2^attempt * InitialBackoff, capped. It returns false when
// the notifier is stopping.
func (n *Notifier) backoff(attempt int) bool {
	delay := time.Duration(float64(n.cfg.InitialBackoff) * math.Pow(2, float64(attempt)))
	if n.cfg.MaxBackoff > 0 && delay > n.cfg.MaxBackoff {
		delay = n.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
		return true
	case <-n.ctx.Done():
		return false
	}
}

func (n *Notifier) addDeadLetter(delivery *WebhookDelivery, reason string) {
	delivery.Status = "dead_letter"
	n.dlMu.Lock()
	if len(n.deadLetter) >= n.maxDL {
		n.deadLetter = n.deadLetter[n.maxDL/10:]
	}
	n.deadLetter = append(n.deadLetter, &DeadLetterEntry{
		Delivery:  *delivery,
		FailedAt:  time.Now().UTC(),
		LastError: reason,
	})
	n.dlMu.Unlock()
	n.logger.Warn().
		Str("id", delivery.ID).
		Str("url", delivery.URL).
		Int("attempts", delivery.Attempts).
		Str("error", reason).
		Msg("webhook moved to dead letter")
}
