// Package redisstream builds the watermill transport used to fan config
// updates out to realtime connections.
package redisstream

import (
	"context"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PubSub bundles a publisher and a fan-out subscriber. Every subscription
// to a topic receives every message published after it subscribed.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []io.Closer
}

// Close shuts the subscriber, the publisher and any client they share.
func (p *PubSub) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewPubSub returns Redis Streams when s.Enabled, an in-memory gochannel
// otherwise.
func NewPubSub(ctx context.Context, s Settings, logger zerolog.Logger) (*PubSub, error) {
	wl := NewZerologAdapter(logger)
	if !s.Enabled {
		return NewMemoryPubSub(wl), nil
	}

	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", addr)
	}
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wl)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}

	// No consumer group: every subscriber reads the whole stream from the
	// moment it subscribes, which is the fan-out the realtime hub needs.
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaler,
	}, wl)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}

	logger.Info().Str("addr", addr).Msg("config fan-out over redis streams")
	return &PubSub{Publisher: pub, Subscriber: sub, closers: []io.Closer{sub, pub, client}}, nil
}

// NewMemoryPubSub returns an in-process fan-out transport.
func NewMemoryPubSub(logger watermill.LoggerAdapter) *PubSub {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return &PubSub{Publisher: ch, Subscriber: ch, closers: []io.Closer{ch}}
}
