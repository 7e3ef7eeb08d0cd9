package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/freight-escrow/internal/app"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Bool("expire", true, "перед сверкой закрыть просроченные предложения")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Однократная сверка эскроу",
	Long: `Строит отчёт сверки: число эскроу по состояниям, суммы выплат и возвратов
за текущие сутки и записи, требующие внимания. Отчёт печатается в JSON.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := commandLogger(cmd, cfg.LogLevel)

	a, err := app.Build(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if expire, _ := cmd.Flags().GetBool("expire"); expire {
		n, err := a.Engine.ExpireStale(cmd.Context())
		if err != nil {
			return err
		}
		log.WithField("expired", n).Info("freightctl: просроченные предложения закрыты")
	}

	report, err := a.Sweeper.Run(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
