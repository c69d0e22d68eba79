// Package config loads pructl settings from TOML. Keys absent from the file
// keep their DefaultConfig value.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Display modes for received messages.
const (
	DisplayAuto = "auto"
	DisplayText = "text"
	DisplayHex  = "hex"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Name        string
	Addr        string
	CorsOrigins []string
	LogLevel    string
	// ControlToken enables the HTTP lifecycle write routes and is required
	// as their bearer token. Empty leaves them unregistered.
	ControlToken string

	// Root prefixes /dev and /sys lookups; empty means the host.
	Root string
	// Endpoint is an explicit device or notification path. Empty with
	// Core < 0 resolves the first available endpoint.
	Endpoint        string
	Core            int
	Async           bool
	WaitForEndpoint bool

	// ReadTimeout < 0 blocks until a message arrives.
	ReadTimeout time.Duration
	Ack         string
	Display     string
	MaxMessages int
	Reconnect   bool

	Remoteproc       string
	Firmware         string
	StartRemoteproc  bool
	StateWaitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:             "pructl",
		Addr:             ":9200",
		CorsOrigins:      []string{"http://localhost:3000"},
		LogLevel:         "info",
		Core:             -1,
		ReadTimeout:      2 * time.Second,
		Ack:              "ACK",
		Display:          DisplayAuto,
		StateWaitTimeout: 5 * time.Second,
	}
}

type fileConfig struct {
	Name             string   `toml:"name"`
	Addr             string   `toml:"addr"`
	CorsOrigins      []string `toml:"cors_origins"`
	LogLevel         string   `toml:"log_level"`
	ControlToken     string   `toml:"control_token"`
	Root             string   `toml:"root"`
	Endpoint         string   `toml:"endpoint"`
	Core             int      `toml:"core"`
	Async            bool     `toml:"async"`
	WaitForEndpoint  bool     `toml:"wait_for_endpoint"`
	ReadTimeout      string   `toml:"read_timeout"`
	ReadTimeoutMS    int64    `toml:"read_timeout_ms,omitempty"`
	Ack              string   `toml:"ack"`
	Display          string   `toml:"display"`
	MaxMessages      int      `toml:"max_messages"`
	Reconnect        bool     `toml:"reconnect"`
	Remoteproc       string   `toml:"remoteproc"`
	Firmware         string   `toml:"firmware"`
	StartRemoteproc  bool     `toml:"start_remoteproc"`
	StateWaitTimeout string   `toml:"state_wait_timeout"`
}

// Load reads path over DefaultConfig and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return fromFile(meta, raw)
}

// Parse is Load for in-memory documents.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return fromFile(meta, raw)
}

func fromFile(meta toml.MetaData, raw fileConfig) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}

	cfg := DefaultConfig()
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("control_token") {
		cfg.ControlToken = strings.TrimSpace(raw.ControlToken)
	}
	if meta.IsDefined("root") {
		cfg.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("core") {
		cfg.Core = raw.Core
	}
	if meta.IsDefined("async") {
		cfg.Async = raw.Async
	}
	if meta.IsDefined("wait_for_endpoint") {
		cfg.WaitForEndpoint = raw.WaitForEndpoint
	}
	if meta.IsDefined("read_timeout") {
		d, err := parseTimeout(raw.ReadTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("read_timeout_ms") {
		cfg.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("ack") {
		cfg.Ack = raw.Ack
	}
	if meta.IsDefined("display") {
		cfg.Display = strings.ToLower(strings.TrimSpace(raw.Display))
	}
	if meta.IsDefined("max_messages") {
		cfg.MaxMessages = raw.MaxMessages
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("remoteproc") {
		cfg.Remoteproc = strings.TrimSpace(raw.Remoteproc)
	}
	if meta.IsDefined("firmware") {
		cfg.Firmware = strings.TrimSpace(raw.Firmware)
	}
	if meta.IsDefined("start_remoteproc") {
		cfg.StartRemoteproc = raw.StartRemoteproc
	}
	if meta.IsDefined("state_wait_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StateWaitTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse state_wait_timeout: %w", err)
		}
		cfg.StateWaitTimeout = d
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseTimeout accepts a Go duration or "none" for no timeout.
func parseTimeout(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "never", "off":
		return -1, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return -1, nil
	}
	return d, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalid)
	}
	switch cfg.Display {
	case DisplayAuto, DisplayText, DisplayHex:
	default:
		return fmt.Errorf("%w: display %q (want auto, text or hex)", ErrInvalid, cfg.Display)
	}
	if cfg.Endpoint != "" && cfg.Core >= 0 {
		return fmt.Errorf("%w: endpoint and core are mutually exclusive", ErrInvalid)
	}
	if cfg.MaxMessages < 0 {
		return fmt.Errorf("%w: max_messages must be >= 0", ErrInvalid)
	}
	if cfg.StartRemoteproc && cfg.Remoteproc == "" {
		return fmt.Errorf("%w: start_remoteproc requires remoteproc", ErrInvalid)
	}
	if cfg.Firmware != "" && cfg.Remoteproc == "" {
		return fmt.Errorf("%w: firmware requires remoteproc", ErrInvalid)
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
