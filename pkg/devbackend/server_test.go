package devbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatwidget/pkg/redisstream"
)

type testBackend struct {
	srv    *Server
	http   *httptest.Server
	pubsub *redisstream.PubSub
}

func newTestBackend(t *testing.T, opts Options, tenants ...TenantConfig) *testBackend {
	t.Helper()
	ps := redisstream.NewMemoryPubSub(watermill.NopLogger{})
	nop := zerolog.Nop()
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	opts.Publisher = ps.Publisher
	opts.Subscriber = ps.Subscriber
	opts.Logger = &nop
	srv, err := NewServer(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Seed(context.Background(), tenants))

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		hs.Close()
		_ = ps.Close()
	})
	return &testBackend{srv: srv, http: hs, pubsub: ps}
}

func (b *testBackend) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, b.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.String()
}

func acme() TenantConfig {
	cfg := NewTenantConfig("abc123")
	cfg.Name = "Acme"
	cfg.WelcomeMessage = "Welcome to Acme"
	return cfg
}

func TestGetConfigReturnsPublicView(t *testing.T) {
	b := newTestBackend(t, Options{}, acme())

	resp, body := b.do(t, http.MethodGet, "/config/abc123", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{
		"theme": {"primary_color": "#007bff", "background_color": "#ffffff", "text_color": "#333333"},
		"welcome_message": "Welcome to Acme",
		"enabled": true
	}`, body)

	resp, _ = b.do(t, http.MethodGet, "/config/nobody", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostConfigStoresAndPublishes(t *testing.T) {
	b := newTestBackend(t, Options{}, acme())

	wsURL := "ws" + strings.TrimPrefix(b.http.URL, "http") + "/realtime/abc123"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return b.srv.Hub().Connections("abc123") == 1 }, time.Second, 5*time.Millisecond)

	resp, _ := b.do(t, http.MethodPost, "/config/abc123",
		`{"client_id":"ignored","theme":{"primary_color":"#ff0000"},"enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)

	var pushed TenantConfig
	require.NoError(t, json.Unmarshal(frame, &pushed))
	require.Equal(t, "abc123", pushed.ClientID)
	require.False(t, pushed.Enabled)
	require.Equal(t, "#ff0000", pushed.Theme["primary_color"])
	require.Equal(t, "#ffffff", pushed.Theme["background_color"])

	_, body := b.do(t, http.MethodGet, "/config/abc123", "")
	require.Contains(t, body, `"enabled":false`)
}

func TestRealtimeIsPerTenant(t *testing.T) {
	b := newTestBackend(t, Options{}, acme(), NewTenantConfig("other"))
	base := "ws" + strings.TrimPrefix(b.http.URL, "http") + "/realtime/"

	other, _, err := websocket.DefaultDialer.Dial(base+"other", nil)
	require.NoError(t, err)
	defer func() { _ = other.Close() }()
	require.Eventually(t, func() bool { return b.srv.Hub().Connections("other") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.srv.UpdateConfig(context.Background(), acme()))

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	require.Error(t, err)
}

func TestRealtimePoolIsReleased(t *testing.T) {
	b := newTestBackend(t, Options{}, acme())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(b.http.URL, "http")+"/realtime/abc123", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.srv.Hub().Connections("abc123") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.srv.Hub().Connections("abc123") == 0 }, time.Second, 5*time.Millisecond)
}

func TestChatAnswers(t *testing.T) {
	b := newTestBackend(t, Options{}, acme())

	resp, body := b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ChatResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Equal(t, "s1", out.SessionID)
	require.Contains(t, out.Response, "> hi")
	require.Contains(t, out.Response, "**Acme**")
	require.False(t, out.Cached)

	_, body = b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123"}`)
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.NotEmpty(t, out.SessionID)
}

func TestChatValidation(t *testing.T) {
	disabled := NewTenantConfig("off")
	disabled.Enabled = false
	b := newTestBackend(t, Options{}, acme(), disabled)

	cases := map[string]struct {
		body   string
		status int
	}{
		"not json":        {`nope`, http.StatusBadRequest},
		"missing client":  {`{"message":"hi"}`, http.StatusBadRequest},
		"blank message":   {`{"message":"  ","client_id":"abc123"}`, http.StatusBadRequest},
		"too long":        {`{"message":"` + strings.Repeat("x", MaxMessageLength+1) + `","client_id":"abc123"}`, http.StatusBadRequest},
		"unknown tenant":  {`{"message":"hi","client_id":"ghost"}`, http.StatusNotFound},
		"disabled tenant": {`{"message":"hi","client_id":"off"}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := b.do(t, http.MethodPost, "/chat", tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestChatRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := newTestBackend(t, Options{Now: clock}, acme())

	for i := 0; i < DefaultRateLimit; i++ {
		resp, _ := b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}
	resp, _ := b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "60", resp.Header.Get("Retry-After"))

	now = now.Add(6 * time.Second)
	resp, _ = b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResponderFailure(t *testing.T) {
	b := newTestBackend(t, Options{Responder: ResponderFunc(func(context.Context, TenantConfig, ChatRequest) (string, error) {
		return "", context.DeadlineExceeded
	})}, acme())
	resp, _ := b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	b := newTestBackend(t, Options{AllowedOrigins: []string{"https://shop.example"}}, acme())

	req, err := http.NewRequest(http.MethodOptions, b.http.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://shop.example", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Content-Type")

	req, err = http.NewRequest(http.MethodGet, b.http.URL+"/config/abc123", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example/")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, b.http.URL+"/config/abc123", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSAnyOrigin(t *testing.T) {
	b := newTestBackend(t, Options{}, acme())

	req, err := http.NewRequest(http.MethodGet, b.http.URL+"/config/abc123", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://anywhere.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	b := newTestBackend(t, Options{}, acme())
	resp, body := b.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)

	b.do(t, http.MethodPost, "/chat", `{"message":"hi","client_id":"abc123"}`)
	resp, body = b.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `chatwidget_chat_messages_total{outcome="ok"} 1`)
	require.Contains(t, body, `chatwidget_http_requests_total{code="200",route="chat"} 1`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ps := redisstream.NewMemoryPubSub(watermill.NopLogger{})
	defer func() { _ = ps.Close() }()
	nop := zerolog.Nop()
	srv, err := NewServer(Options{Store: NewMemoryStore(acme()), Publisher: ps.Publisher, Subscriber: ps.Subscriber, Logger: &nop})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
