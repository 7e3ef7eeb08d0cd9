// Package cli команды freightctl для эксплуатации сервиса.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/freight-escrow/internal/config"
	"github.com/ignatzorin/freight-escrow/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "freightctl",
	Short:         "Эксплуатация сервиса эскроу и подбора перевозчиков",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig подменяется в тестах.
var loadConfig = config.Load

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "писать логи в stderr")
}

// ExecuteContext запускает корневую команду с аргументами процесса.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// NewRootCommand корневая команда с заданными аргументами и выводом, для тестов.
func NewRootCommand(out io.Writer, args ...string) *cobra.Command {
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	return rootCmd
}

func commandLogger(cmd *cobra.Command, level string) *logrus.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return logger.Discard()
	}
	log := logger.Init(level)
	log.SetOutput(cmd.ErrOrStderr())
	return log
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
