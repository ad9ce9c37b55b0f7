package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/subwatch/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s. Add your channels to %s.\n", configDir, configPath)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# subwatch configuration

channels:
  - id: UCxxxxxxxxxxxxxxxxxxxxxx
    handle: "@your_channel_here"
    description: "What this channel is about"
  # - feed_url: "https://example.com/videos.xml"

notifiers:
  - type: log
  # - type: slack
  #   webhook_url_env: SLACK_WEBHOOK_URL
  #   channel: "#videos"

storage:
  path: .subwatch/subwatch.db
  retain_days: 90

fetch:
  timeout: 30s
  workers: 4

run:
  default_lookback: 24h

# Prometheus textfile collector output, written after every run.
metrics:
  textfile: ""

# Webhook URLs are always masked in logs. Add patterns for anything else.
privacy:
  redact: []
`
