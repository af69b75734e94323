package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const exampleConfig = `discord:
  token: "<discord token>"
telegram:
  token: "<telegram token>"

logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""

notifier:
  workers: 2
  queue_size: 256
  rate_per_sec: 3
  dedup_window: "5s"

digest:
  enabled: false
  schedule: "0 9 * * *"
  timezone: "UTC"

roster:
  - name: User1
    discord_primary_id: "1234567890"
    discord_secondary_ids: ["2345678901", "3456789012"]
    telegram_chat_id: 123456
  - name: User2
    discord_primary_id: "567891234"
`

// WriteExample drops an example config next to the requested path so the
// operator has a template to fill in. It never overwrites an existing file.
// Returns the example's path.
func WriteExample(cfgPath string) (string, error) {
	dir := filepath.Dir(cfgPath)
	path := filepath.Join(dir, "example."+filepath.Base(cfgPath))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write example config: %w", err)
	}
	return path, nil
}
