package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/config"
)

// hook records request bodies. The first failFirst requests get a 500.
type hook struct {
	mu        sync.Mutex
	bodies    []map[string]interface{}
	calls     int
	failFirst int
}

func (h *hook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failFirst {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	var m map[string]interface{}
	json.Unmarshal(raw, &m) //nolint:errcheck
	h.bodies = append(h.bodies, m)
}

func (h *hook) received() []map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]interface{}(nil), h.bodies...)
}

func newDispatcher(t *testing.T, typ string, h *hook, bufSize int) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("NOTIFY_TEST_URL", srv.URL)
	d := New([]config.WebhookConfig{{Type: typ, URLEnv: "NOTIFY_TEST_URL"}}, bufSize)
	d.retry = 5 * time.Millisecond
	return d
}

func run(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatcher_Slack(t *testing.T) {
	h := &hook{}
	d := newDispatcher(t, "slack", h, 8)
	run(t, d)

	d.Notify(types.Notification{ID: "n1", Title: "New follower", Body: "Sarah started following you"})

	require.Eventually(t, func() bool { return len(h.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "*New follower* Sarah started following you", h.received()[0]["text"])
}

func TestDispatcher_HTTPAndTeams(t *testing.T) {
	for _, typ := range []string{"http", "teams"} {
		t.Run(typ, func(t *testing.T) {
			h := &hook{}
			d := newDispatcher(t, typ, h, 8)
			run(t, d)

			d.Notify(types.Notification{ID: "n1", RecipientID: "3", Kind: types.NotifyFollow, Title: "t", Body: "b"})
			require.Eventually(t, func() bool { return len(h.received()) == 1 }, 2*time.Second, 10*time.Millisecond)

			got := h.received()[0]
			if typ == "http" {
				n, ok := got["notification"].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, "n1", n["id"])
				assert.Equal(t, "3", n["user_id"])
			} else {
				assert.Equal(t, "MessageCard", got["@type"])
				assert.Equal(t, "t", got["title"])
			}
		})
	}
}

func TestDispatcher_RetriesFailedPost(t *testing.T) {
	h := &hook{failFirst: 2}
	d := newDispatcher(t, "slack", h, 8)
	run(t, d)

	d.Notify(types.Notification{ID: "n1", Title: "x"})
	require.Eventually(t, func() bool { return len(h.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	h := &hook{failFirst: 100}
	d := newDispatcher(t, "slack", h, 8)
	run(t, d)

	d.Notify(types.Notification{ID: "n1"})
	d.Notify(types.Notification{ID: "n2"})
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.calls == 2*maxAttempts
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_BufferEvictsOldest(t *testing.T) {
	h := &hook{}
	d := newDispatcher(t, "slack", h, 2)

	for _, id := range []string{"1", "2", "3"} {
		d.Notify(types.Notification{ID: id, Title: id})
	}
	run(t, d)

	require.Eventually(t, func() bool { return len(h.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := h.received()
	assert.Equal(t, "*2* ", got[0]["text"])
	assert.Equal(t, "*3* ", got[1]["text"])
}

func TestNew_SkipsUnsetURL(t *testing.T) {
	d := New([]config.WebhookConfig{{Type: "slack", URLEnv: "NOTIFY_UNSET_URL_FOR_TEST"}}, 0)
	assert.Empty(t, d.Targets())
	assert.Equal(t, DefaultBufferSize, cap(d.buf))

	// No targets: Notify is a no-op.
	d.Notify(types.Notification{ID: "x"})
	assert.Equal(t, 0, len(d.buf))
}

func TestEncode_UnknownType(t *testing.T) {
	_, err := encode("pager", types.Notification{})
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	bo := newBackoff(100 * time.Millisecond)
	first := bo.next()
	assert.LessOrEqual(t, first, 125*time.Millisecond)
	assert.GreaterOrEqual(t, first, 75*time.Millisecond)
	for i := 0; i < 20; i++ {
		bo.next()
	}
	assert.LessOrEqual(t, bo.next(), backoffMax+backoffMax/4)
}
