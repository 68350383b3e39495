// Package cmds holds the chatwidget command tree.
package cmds

import (
	"io/fs"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "chatwidget"

// NewRootCommand builds the command tree. clay wires the logging flags,
// CHATWIDGET_* variables and ~/.chatwidget/config.yaml into viper.
func NewRootCommand() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Run embeddable chat widgets and their development backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// a .env next to the working directory feeds CHATWIDGET_* like the shell
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return errors.Wrap(err, "load .env")
			}
			// subcommand flags are read back through viper
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return errors.Wrap(err, "bind flags")
			}
			return logging.InitLoggerFromViper()
		},
	}
	root.AddCommand(newEmbedCommand(), newChatCommand(), newDevServerCommand())

	if err := clay.InitViper(appName, root); err != nil {
		return nil, errors.Wrap(err, "init viper")
	}
	return root, nil
}
