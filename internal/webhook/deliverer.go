package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// SchemeHMAC is the push notification auth scheme that requests signed delivery.
const SchemeHMAC = "HMAC-SHA256"

// DelivererConfig tunes outbound delivery.
type DelivererConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Deliverer POSTs envelopes to buyer webhook endpoints. Each endpoint host gets
// its own circuit breaker; all deliveries share one rate limiter.
type Deliverer struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewDeliverer(cfg DelivererConfig, logger *logging.Logger) *Deliverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &Deliverer{
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:   logger.With("module", "webhook-deliverer"),
		now:      time.Now,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Deliver sends env to cfg.URL. The body is signed when cfg asks for HMAC
// authentication, and a Bearer token is attached when cfg carries one.
func (d *Deliverer) Deliver(ctx context.Context, cfg *models.PushNotificationConfig, env *envelope.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	target, err := url.Parse(cfg.URL)
	if err != nil || target.Host == "" {
		return fmt.Errorf("invalid webhook url %q", cfg.URL)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limiter: %w", err)
	}

	_, err = d.breaker(target.Host).Execute(func() (interface{}, error) {
		return nil, d.post(ctx, cfg, body)
	})
	if err != nil {
		d.logger.Warn("webhook delivery failed", "host", target.Host, "task_id", env.TaskID, "error", err)
		return err
	}
	d.logger.Debug("webhook delivered", "host", target.Host, "task_id", env.TaskID, "status", env.Status)
	return nil
}

func (d *Deliverer) post(ctx context.Context, cfg *models.PushNotificationConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "adcp-sales-agent/1.0")

	if secret := hmacSecret(cfg); secret != "" {
		ts := d.now()
		req.Header.Set(TimestampHeader, strconv.FormatInt(ts.Unix(), 10))
		req.Header.Set(SignatureHeader, NewSigner(secret).Sign(body, ts))
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *Deliverer) breaker(host string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook:" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("webhook circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	d.breakers[host] = cb
	return cb
}

func hmacSecret(cfg *models.PushNotificationConfig) string {
	if cfg.Authentication == nil || cfg.Authentication.Credentials == "" {
		return ""
	}
	for _, s := range cfg.Authentication.Schemes {
		if strings.EqualFold(s, SchemeHMAC) {
			return cfg.Authentication.Credentials
		}
	}
	return ""
}
