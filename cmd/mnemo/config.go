package mnemo

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soundprediction/mnemo/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config resolves defaults, the config file and environment overrides
and prints the merged result. Useful for checking what the engine will
actually run with.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Secrets stay out of the dump.
		cfg.Extract.APIKey = redact(cfg.Extract.APIKey)
		cfg.Embed.APIKey = redact(cfg.Embed.APIKey)
		cfg.Reason.APIKey = redact(cfg.Reason.APIKey)
		cfg.Store.Password = redact(cfg.Store.Password)

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[redacted]"
}

func init() {
	rootCmd.AddCommand(configCmd)
}
