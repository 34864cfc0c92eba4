package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/config"
)

const (
	// DefaultBufferSize is the notification queue depth.
	DefaultBufferSize = 256

	maxAttempts       = 3
	backoffInitial    = 100 * time.Millisecond
	backoffMax        = 5 * time.Second
	backoffMultiplier = 2.0
	postTimeout       = 10 * time.Second
)

// Target is one resolved webhook.
type Target struct {
	Type string
	URL  string
}

// Dispatcher posts notifications to webhook targets in the background.
type Dispatcher struct {
	targets []Target
	buf     chan types.Notification
	client  *http.Client
	retry   time.Duration // first retry wait
}

// New resolves the webhook URLs from the environment. Targets whose URL is
// unset are skipped with a warning.
func New(webhooks []config.WebhookConfig, bufSize int) *Dispatcher {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	d := &Dispatcher{
		buf:    make(chan types.Notification, bufSize),
		client: &http.Client{Timeout: postTimeout},
		retry:  backoffInitial,
	}
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			slog.Warn("notify: webhook url not set, skipping", "type", wh.Type, "url_env", wh.URLEnv)
			continue
		}
		d.targets = append(d.targets, Target{Type: wh.Type, URL: url})
	}
	return d
}

// Targets returns the resolved targets.
func (d *Dispatcher) Targets() []Target {
	return d.targets
}

// Notify enqueues n. When the buffer is full the oldest entry is evicted.
func (d *Dispatcher) Notify(n types.Notification) {
	if len(d.targets) == 0 {
		return
	}
	select {
	case d.buf <- n:
		return
	default:
	}
	select {
	case old := <-d.buf:
		slog.Warn("notify: buffer full, evicted oldest notification",
			"evicted", old.ID, "buffer_cap", cap(d.buf))
	default:
	}
	select {
	case d.buf <- n:
	default:
		slog.Warn("notify: buffer full, dropped notification", "id", n.ID)
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.buf:
			for _, t := range d.targets {
				d.deliver(ctx, t, n)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t Target, n types.Notification) {
	body, err := encode(t.Type, n)
	if err != nil {
		slog.Warn("notify: skipping target", "type", t.Type, "err", err)
		return
	}

	bo := newBackoff(d.retry)
	for attempt := 1; ; attempt++ {
		err = d.post(ctx, t.URL, body)
		if err == nil {
			slog.Debug("notify: webhook delivered", "type", t.Type, "notification", n.ID, "attempt", attempt)
			return
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			slog.Error("notify: webhook delivery failed",
				"type", t.Type, "notification", n.ID, "attempts", attempt, "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.next()):
		}
	}
}

func encode(typ string, n types.Notification) ([]byte, error) {
	switch typ {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s", n.Title, n.Body),
		})
	case "teams":
		return json.Marshal(map[string]interface{}{
			"@type":    "MessageCard",
			"@context": "http://schema.org/extensions",
			"summary":  n.Title,
			"title":    n.Title,
			"text":     n.Body,
		})
	case "http":
		return json.Marshal(map[string]interface{}{"notification": n})
	default:
		return nil, fmt.Errorf("unknown webhook type %q", typ)
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{current: initial}
}

// next returns the current wait with ±25% jitter and doubles the next one.
func (b *backoff) next() time.Duration {
	d := b.current
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
