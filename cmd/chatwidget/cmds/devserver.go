package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatwidget/pkg/devbackend"
	"github.com/go-go-golems/chatwidget/pkg/redisstream"
)

type DevServerSettings struct {
	Addr           string   `mapstructure:"addr"`
	Seeds          string   `mapstructure:"seeds"`
	AllowedOrigins []string `mapstructure:"allowed-origins"`

	Redis redisstream.Settings `mapstructure:",squash"`
}

func newDevServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve the widget API for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s DevServerSettings
			if err := viper.Unmarshal(&s); err != nil {
				return errors.Wrap(err, "decode devserver settings")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDevServer(ctx, s)
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8000", "Listen address")
	f.String("seeds", "", "YAML file with tenants to load at startup")
	f.StringSlice("allowed-origins", nil, "CORS origins (any when empty)")
	f.Bool("redis-enabled", false, "Store configs in redis and fan out over redis streams")
	f.String("redis-addr", redisstream.DefaultAddr, "Redis address")
	return cmd
}

func runDevServer(ctx context.Context, s DevServerSettings) error {
	logger := log.With().Str("component", "devserver").Logger()

	ps, err := redisstream.NewPubSub(ctx, s.Redis, logger)
	if err != nil {
		return err
	}
	defer func() { _ = ps.Close() }()

	var store devbackend.Store = devbackend.NewMemoryStore()
	if s.Redis.Enabled {
		store = devbackend.NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Redis.Addr}))
	}
	defer func() { _ = store.Close() }()

	srv, err := devbackend.NewServer(devbackend.Options{
		Store:          store,
		Publisher:      ps.Publisher,
		Subscriber:     ps.Subscriber,
		AllowedOrigins: s.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	if s.Seeds != "" {
		tenants, err := devbackend.LoadSeedFile(s.Seeds)
		if err != nil {
			return err
		}
		if err := srv.Seed(ctx, tenants); err != nil {
			return err
		}
		logger.Info().Int("tenants", len(tenants)).Str("file", s.Seeds).Msg("tenants seeded")
	}

	return srv.Run(ctx, s.Addr)
}
