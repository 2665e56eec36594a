package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "ghost":
		return ghostTemplate, nil
	case "mirage":
		return mirageTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
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

const ghostTemplate = `# device_id is read from the device store (device.info.uuid) when empty.
device_id = ""
subscribe = "tcp://127.0.0.1:5556"
push = "tcp://127.0.0.1:5557"
codec = "frame"
protocol = "current"
min_id_length = 4
queue_hwm = 1000
poll_interval_ms = 200
shell = "/bin/sh"
output_chunk_bytes = 2000
flush_grace_ms = 200
push_dir = "/tmp"
store_dir = "/etc/ghostwire"
init_dir = "/etc/init.d"
admin_listen_addr = "127.0.0.1:7090"
# admin_token protects /tasks when set.
admin_token = ""

[session]
security_mode = "development"
tls_enabled = false
backoff_initial_ms = 1000
backoff_max_ms = 300000
`

const mirageTemplate = `id = "miragectl"
hub_publish_addr = "0.0.0.0:5556"
hub_collect_addr = "0.0.0.0:5557"
codec = "frame"
reply_timeout_ms = 10000

[session]
security_mode = "development"
tls_enabled = false
`
