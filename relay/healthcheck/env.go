package healthcheck

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultTimeoutEnv = "JN_KEEPALIVE_TIMEOUT"

func getTimeoutFromEnv() time.Duration {
	if timeout := os.Getenv(defaultTimeoutEnv); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			log.Errorf("Failed to parse keepalive timeout from environment variable \"%s\" should be a positive duration. Using default value", timeout)
			return defaultTimeout
		}
		return d
	}
	return defaultTimeout
}
