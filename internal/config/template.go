package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Encode renders cfg in the file format Load accepts.
func Encode(cfg Config) ([]byte, error) {
	out := fileConfig{
		Name:             cfg.Name,
		Addr:             cfg.Addr,
		CorsOrigins:      cfg.CorsOrigins,
		LogLevel:         cfg.LogLevel,
		ControlToken:     cfg.ControlToken,
		Root:             cfg.Root,
		Endpoint:         cfg.Endpoint,
		Core:             cfg.Core,
		Async:            cfg.Async,
		WaitForEndpoint:  cfg.WaitForEndpoint,
		ReadTimeout:      formatTimeout(cfg),
		Ack:              cfg.Ack,
		Display:          cfg.Display,
		MaxMessages:      cfg.MaxMessages,
		Reconnect:        cfg.Reconnect,
		Remoteproc:       cfg.Remoteproc,
		Firmware:         cfg.Firmware,
		StartRemoteproc:  cfg.StartRemoteproc,
		StateWaitTimeout: cfg.StateWaitTimeout.String(),
	}
	data, err := toml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("config encode failed: %w", err)
	}
	return data, nil
}

func formatTimeout(cfg Config) string {
	if cfg.ReadTimeout < 0 {
		return "none"
	}
	return cfg.ReadTimeout.String()
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Encode(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
