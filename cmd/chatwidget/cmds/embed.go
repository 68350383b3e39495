package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatwidget/pkg/widget/bootstrap"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/page"
)

func newEmbedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed PAGE.html",
		Short: "Mount a widget on every marker of a host page and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadWidgetSettings()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEmbed(ctx, s, args[0], viper.GetString("out"), viper.GetBool("once"), cmd.OutOrStdout())
		},
	}
	addWidgetFlags(cmd)
	cmd.Flags().String("out", "", "Write the page to this file instead of stdout")
	cmd.Flags().Bool("once", false, "Exit after the first render of every widget")
	return cmd
}

func runEmbed(ctx context.Context, s WidgetSettings, path, out string, once bool, stdout io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open host page")
	}
	doc, err := page.Parse(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	rendered := make(chan struct{}, 1)
	reg, err := newRegistry(s, func(*bootstrap.Instance, config.WidgetConfig) {
		select {
		case rendered <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer reg.DestroyAll()

	instances, err := reg.Discover(ctx, doc)
	if err != nil {
		return err
	}
	log.Info().Str("page", path).Int("widgets", len(instances)).Msg("host page mounted")

	// every instance renders once during construction
	if err := writePage(doc, out, stdout); err != nil {
		return err
	}
	if once {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rendered:
			if err := writePage(doc, out, stdout); err != nil {
				return err
			}
		}
	}
}

// writePage replaces out atomically, or writes to stdout when out is empty.
func writePage(doc *page.Document, out string, stdout io.Writer) error {
	if out == "" {
		return doc.Render(stdout)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".chatwidget-*")
	if err != nil {
		return errors.Wrap(err, "create temp page")
	}
	if err := doc.Render(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "write page")
	}
	return errors.Wrap(os.Rename(tmp.Name(), out), "replace page")
}
