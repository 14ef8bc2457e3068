package config

var defaults = map[string]any{
	"secret":    "",
	"token_ttl": 720, // 12 hours
	"log_level": "info",

	"allowed_networks": "",
	"base_url":         "",

	"monitor.url":          "",
	"monitor.timeout":      10,
	"monitor.max_attempts": 3,
	"monitor.backoff":      2,

	"sync.interval":       60,
	"sync.run_retries":    2,
	"sync.retry_delay":    5,
	"sync.run_timeout":    300,
	"sync.login_attempts": 2,
	"sync.autostart":      true,

	"terminal.timeout": 10,

	"alerts.enabled":  false,
	"alerts.to":       []string{},
	"alerts.interval": 900, // 15 minutes

	"email.host":     "host.docker.internal",
	"email.port":     "25",
	"email.username": "",
	"email.password": "",
	"email.from":     "noreply@example.com",

	"storage.type":       "sqlite",
	"storage.local.path": "./data/access_logs.db",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
