package redisstream

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMemoryPubSubFansOut(t *testing.T) {
	ps, err := NewPubSub(context.Background(), Settings{}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = ps.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := ps.Subscriber.Subscribe(ctx, "config_updates.abc123")
	require.NoError(t, err)
	b, err := ps.Subscriber.Subscribe(ctx, "config_updates.abc123")
	require.NoError(t, err)

	require.NoError(t, ps.Publisher.Publish("config_updates.abc123",
		message.NewMessage(watermill.NewUUID(), []byte(`{"enabled":true}`))))

	for _, ch := range []<-chan *message.Message{a, b} {
		select {
		case msg := <-ch:
			require.Equal(t, `{"enabled":true}`, string(msg.Payload))
			msg.Ack()
		case <-time.After(time.Second):
			t.Fatal("subscriber got nothing")
		}
	}
}

func TestRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewPubSub(ctx, Settings{Enabled: true, Addr: "127.0.0.1:1"}, zerolog.Nop())
	require.Error(t, err)
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).Level(zerolog.TraceLevel)
	a := NewZerologAdapter(l).With(watermill.LogFields{"topic": "t1"})

	a.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})
	out := buf.String()
	require.Contains(t, out, `"level":"error"`)
	require.Contains(t, out, `"error":"boom"`)
	require.Contains(t, out, `"topic":"t1"`)
	require.Contains(t, out, `"attempt":2`)
	require.Contains(t, out, `"component":"watermill"`)

	buf.Reset()
	a.Info("subscribed", nil)
	require.Contains(t, buf.String(), `"level":"debug"`)
}
