package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mockshelf/mockshelf/internal/config"
	"github.com/mockshelf/mockshelf/internal/logging"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderConfig(cfg))
			return nil
		},
	}
}

func renderConfig(cfg config.Config) string {
	secret := func(s string) string {
		if s == "" {
			return "(unset)"
		}
		return logging.SanitizeToken(s)
	}
	rows := [][]string{
		{"listen", cfg.Host() + ":" + strconv.Itoa(cfg.Port())},
		{"log", cfg.LogLevel() + " / " + cfg.LogFormat()},
		{"data dir", cfg.DataDir()},
		{"database", cfg.DBPath()},
		{"media dir", cfg.MediaDir()},
		{"figma api", cfg.FigmaBaseURL()},
		{"figma token", secret(cfg.FigmaToken())},
		{"export", fmt.Sprintf("%s @%gx, batch %d, pause %s", cfg.ExportFormat(), cfg.ExportScale(), cfg.ExportBatchSize(), cfg.ExportBatchPause())},
		{"retry", fmt.Sprintf("%d attempts, %s to %s", cfg.RetryAttempts(), cfg.RetryInitialBackoff(), cfg.RetryMaxBackoff())},
		{"file cache ttl", cfg.FileCacheTTL().String()},
		{"ffmpeg", fmt.Sprintf("%s (timeout %s)", cfg.FFmpegPath(), cfg.EncoderTimeout())},
		{"canvas", fmt.Sprintf("%dpx wide, %d fps", cfg.CanvasWidth(), cfg.FrameRate())},
		{"llm", fmt.Sprintf("%s via %s", cfg.LLMModel(), cfg.LLMBaseURL())},
		{"llm key", secret(cfg.LLMAPIKey())},
	}
	return renderTable([]string{"Setting", "Value"}, rows, nil)
}
