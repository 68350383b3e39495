package cmds

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatwidget/pkg/devbackend"
	"github.com/go-go-golems/chatwidget/pkg/redisstream"
)

const hostPage = `<!DOCTYPE html><html><head><title>shop</title></head><body>
<div data-client-id="abc123"></div>
<div data-client-id="off" data-position="bottom-left"></div>
</body></html>`

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	ps := redisstream.NewMemoryPubSub(watermill.NopLogger{})
	nop := zerolog.Nop()

	acme := devbackend.NewTenantConfig("abc123")
	acme.Theme["primary_color"] = "#ff0000"
	off := devbackend.NewTenantConfig("off")
	off.Enabled = false

	srv, err := devbackend.NewServer(devbackend.Options{
		Store:      devbackend.NewMemoryStore(acme, off),
		Publisher:  ps.Publisher,
		Subscriber: ps.Subscriber,
		Logger:     &nop,
	})
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		hs.Close()
		_ = ps.Close()
	})
	return hs
}

func testSettings(apiURL string) WidgetSettings {
	return WidgetSettings{
		APIURL:       apiURL,
		FetchTimeout: 2 * time.Second,
		ReplyTimeout: 2 * time.Second,
		MaxRetries:   1,
	}
}

func writeHostPage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(hostPage), 0o644))
	return path
}

func TestEmbedOnceToStdout(t *testing.T) {
	hs := startBackend(t)
	var out bytes.Buffer

	err := runEmbed(context.Background(), testSettings(hs.URL), writeHostPage(t), "", true, &out)
	require.NoError(t, err)

	html := out.String()
	require.Contains(t, html, `id="widget-1"`)
	require.Contains(t, html, `id="widget-2"`)
	require.Contains(t, html, "#ff0000")
	require.Contains(t, html, "left: 20px")
	require.Contains(t, html, "<title>shop</title>")
}

func TestEmbedOnceToFile(t *testing.T) {
	hs := startBackend(t)
	out := filepath.Join(t.TempDir(), "mounted.html")

	var stdout bytes.Buffer
	require.NoError(t, runEmbed(context.Background(), testSettings(hs.URL), writeHostPage(t), out, true, &stdout))
	require.Empty(t, stdout.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), "chatbot-widget-container")
}

func TestEmbedStopsOnCancel(t *testing.T) {
	hs := startBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	pagePath := writeHostPage(t)
	outPath := filepath.Join(t.TempDir(), "o.html")
	go func() { done <- runEmbed(ctx, testSettings(hs.URL), pagePath, outPath, false, &bytes.Buffer{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("embed did not stop")
	}
}

func TestEmbedMissingPage(t *testing.T) {
	err := runEmbed(context.Background(), testSettings("http://localhost:1"), filepath.Join(t.TempDir(), "nope.html"), "", true, &bytes.Buffer{})
	require.Error(t, err)
}
