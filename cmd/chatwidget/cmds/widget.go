package cmds

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatwidget/pkg/widget/api"
	"github.com/go-go-golems/chatwidget/pkg/widget/bootstrap"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/live"
)

// WidgetSettings configures how widgets reach their backend.
type WidgetSettings struct {
	APIURL       string        `mapstructure:"api-url"`
	WSURL        string        `mapstructure:"ws-url"`
	FetchTimeout time.Duration `mapstructure:"fetch-timeout"`
	ReplyTimeout time.Duration `mapstructure:"reply-timeout"`
	MaxRetries   uint64        `mapstructure:"max-retries"`
}

func addWidgetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("api-url", "http://localhost:8000", "Widget backend base URL")
	f.String("ws-url", "", "Realtime base URL (derived from --api-url when empty)")
	f.Duration("fetch-timeout", 10*time.Second, "Timeout of the config fetch")
	f.Duration("reply-timeout", 60*time.Second, "Timeout of one chat reply")
	f.Uint64("max-retries", live.DefaultMaxRetries, "Realtime reconnect attempts before giving up")
}

func loadWidgetSettings() (WidgetSettings, error) {
	var s WidgetSettings
	if err := viper.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "decode widget settings")
	}
	return s, nil
}

func newRegistry(s WidgetSettings, onRender func(*bootstrap.Instance, config.WidgetConfig)) (*bootstrap.Registry, error) {
	client, err := api.NewClient(s.APIURL)
	if err != nil {
		return nil, err
	}
	realtime := s.WSURL
	if realtime == "" {
		realtime = s.APIURL
	}
	return bootstrap.NewRegistry(bootstrap.Options{
		Backend:      client,
		RealtimeURL:  realtime,
		FetchTimeout: s.FetchTimeout,
		ReplyTimeout: s.ReplyTimeout,
		Live:         live.Options{MaxRetries: s.MaxRetries},
		OnRender:     onRender,
	}), nil
}
