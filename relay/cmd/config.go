package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jupiter/notifier/relay/transport"
	"github.com/jupiter/notifier/relay/transport/dialer"
	"github.com/jupiter/notifier/relay/transport/dialer/gorilla"
	"github.com/jupiter/notifier/relay/transport/dialer/ws"
	"github.com/jupiter/notifier/util"
	"github.com/jupiter/notifier/version"
)

const (
	configDirName  = ".jupiter-notifier"
	configFileName = "config.json"

	transportWS      = "ws"
	transportGorilla = "gorilla"
	transportRace    = "race"
)

// FileConfig is the persisted client configuration
type FileConfig struct {
	URL       string `json:"url"`
	AutoStart bool   `json:"auto_start"`
	Transport string `json:"transport,omitempty"`
	// DisplayDuration is in seconds, 0 keeps the overlay until it is dismissed
	DisplayDuration int `json:"display_duration,omitempty"`
}

// ClientConfig is the effective configuration of a client command
type ClientConfig struct {
	URL             string
	Transport       string
	DisplayDuration time.Duration
	ClientType      string
	ClientVersion   string
}

func (c ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("relay url is required")
	}
	if err := transport.ValidateURL(c.URL); err != nil {
		return err
	}
	if _, err := newDialer(c.Transport); err != nil {
		return err
	}
	if c.ClientType == "" {
		return fmt.Errorf("client type is required")
	}
	if _, err := version.Parse(c.ClientVersion); err != nil {
		return err
	}
	if c.DisplayDuration < 0 {
		return fmt.Errorf("display duration can not be negative")
	}
	return nil
}

// apply fills the fields not set on the command line from the config file
func (c *ClientConfig) apply(fc FileConfig, urlSet, transportSet, displaySet bool) {
	if !urlSet && fc.URL != "" {
		c.URL = fc.URL
	}
	if !transportSet && fc.Transport != "" {
		c.Transport = fc.Transport
	}
	if !displaySet && fc.DisplayDuration > 0 {
		c.DisplayDuration = time.Duration(fc.DisplayDuration) * time.Second
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName
	}
	return filepath.Join(home, configDirName, configFileName)
}

// readFileConfig returns an empty configuration when the file does not exist
func readFileConfig(path string) (FileConfig, error) {
	cfg, err := util.ReadJson[FileConfig](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("config file %s does not exist", path)
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

func writeFileConfig(ctx context.Context, path string, cfg FileConfig) error {
	if err := util.WriteJson(ctx, path, cfg); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	log.Infof("configuration saved to %s", path)
	return nil
}

func newDialer(name string) (transport.Dialer, error) {
	switch name {
	case "", transportWS:
		return ws.NewDialer(), nil
	case transportGorilla:
		return gorilla.NewDialer(), nil
	case transportRace:
		return dialer.NewRaceDialer(ws.NewDialer(), gorilla.NewDialer()), nil
	default:
		return nil, fmt.Errorf("unknown transport %q, use one of %s, %s, %s", name, transportWS, transportGorilla, transportRace)
	}
}
