package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "config":
		return configTemplate, nil
	case "suite":
		return suiteTemplate, nil
	default:
		return "", fmt.Errorf("unknown template kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const configTemplate = `ping_interval_ms = 10000
phase_poll_interval = "100ms"
suite_path = "suite.yaml"
duration = "10s"
fail_fast = false
metrics_addr = ""
log_level = "info"

[[agents]]
public_address = "10.0.0.1"
private_address = "192.168.0.1"
workers = 2

[[agents]]
public_address = "10.0.0.2"
private_address = "192.168.0.2"
workers = 2
`

const suiteTemplate = `name: smoke
duration: 5s
fail_fast: false
tests:
  - id: SuccessTest
    class: success
    properties:
      tick: 10ms
  - id: FailingTest
    class: failing
`
