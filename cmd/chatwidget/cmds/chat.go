package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/chatwidget/pkg/tui"
	"github.com/go-go-golems/chatwidget/pkg/widget/bootstrap"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
	"github.com/go-go-golems/chatwidget/pkg/widget/page"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat through one widget in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadWidgetSettings()
			if err != nil {
				return err
			}
			clientID, err := resolveClientID(viper.GetString("client-id"), os.Stdin, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			// the terminal belongs to the chat view
			if viper.GetString("log-file") == "" {
				log.Logger = log.Logger.Output(io.Discard)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, s, clientID, viper.GetString("position"), viper.GetString("style"))
		},
	}
	addWidgetFlags(cmd)
	cmd.Flags().String("client-id", "", "Tenant client id (prompted for when missing)")
	cmd.Flags().String("position", string(config.PositionBottomRight), "bottom-right or bottom-left")
	cmd.Flags().String("style", "dark", "Markdown style (dark, light, notty, ...)")
	return cmd
}

// resolveClientID prompts on a terminal when clientID is empty.
func resolveClientID(clientID string, in *os.File, out io.Writer) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID != "" {
		return clientID, nil
	}
	if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
		return "", bootstrap.ErrMissingClientID
	}
	ui := &input.UI{Reader: in, Writer: out}
	answer, err := ui.Ask("Client id", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
		ValidateFunc: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("client id must not be blank")
			}
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "read client id")
	}
	return strings.TrimSpace(answer), nil
}

func runChat(ctx context.Context, s WidgetSettings, clientID, position, style string) error {
	notifier := tui.NewNotifier()
	reg, err := newRegistry(s, notifier.OnRender)
	if err != nil {
		return err
	}
	defer reg.DestroyAll()

	inst, err := reg.Construct(ctx, page.Blank(), bootstrap.InstanceConfig{
		ClientID: clientID,
		Position: config.ParsePosition(position),
	})
	if err != nil {
		return err
	}
	return tui.Run(ctx, inst, notifier, tui.Options{Style: style}, tea.WithAltScreen())
}
