// Package config holds the validated settings of the hub and the terminal client.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	AppDirectoryName = "sendrop"

	DefaultPort           = 3000
	DefaultAssets         = "./public"
	DefaultPendingTimeout = 60 * time.Second
	DefaultRetention      = 30 * time.Second
	DefaultMaxConns       = 256
	DefaultMaxMessage     = 4 << 20
	DefaultQueue          = 256
	DefaultStallTimeout   = 30 * time.Second
	// MaxStallTimeout stays under the hub's 60s websocket pong wait, which a
	// stalled sender's reader must not miss.
	MaxStallTimeout = 50 * time.Second

	DefaultChunkSize = 1 << 20
	// MaxChunkSize keeps a base64 sendFile frame under DefaultMaxMessage.
	MaxChunkSize = 2 << 20
	DefaultTimeout   = 60 * time.Second

	// ServiceType is the zeroconf service the hub advertises.
	ServiceType = "_sendrop._tcp"
	WSPath      = "/ws"
)

var ErrInvalidConfig = errors.New("invalid config")

// FrameSize is an upper bound of the sendFile frame carrying chunk bytes:
// base64 payload plus room for the envelope and the other fields.
func FrameSize(chunk int) int64 {
	return int64(base64.StdEncoding.EncodedLen(chunk)) + 1024
}

type HubConfig struct {
	Host           string
	Port           int
	Assets         string
	LogPath        string
	LogLevel       string
	Stdout         bool
	PendingTimeout time.Duration
	Retention      time.Duration
	MaxConns       int
	MaxMessage     int64
	Queue          int
	StallTimeout   time.Duration
	MDNS           bool
	Name           string
}

func DefaultHub() HubConfig {
	return HubConfig{
		Port:           DefaultPort,
		Assets:         DefaultAssets,
		LogLevel:       "info",
		PendingTimeout: DefaultPendingTimeout,
		Retention:      DefaultRetention,
		MaxConns:       DefaultMaxConns,
		MaxMessage:     DefaultMaxMessage,
		Queue:          DefaultQueue,
		StallTimeout:   DefaultStallTimeout,
		MDNS:           true,
		Name:           hostname(),
	}
}

func (c HubConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c HubConfig) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	if c.PendingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pending timeout must be positive, got %s", c.PendingTimeout))
	}

	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("retention must not be negative, got %s", c.Retention))
	}

	if c.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("max conns must be at least 1, got %d", c.MaxConns))
	}

	if c.MaxMessage < 1024 {
		errs = append(errs, fmt.Errorf("max message must be at least 1KiB, got %d", c.MaxMessage))
	}

	if c.Queue < 1 {
		errs = append(errs, fmt.Errorf("queue must be at least 1, got %d", c.Queue))
	}

	if c.StallTimeout <= 0 || c.StallTimeout > MaxStallTimeout {
		errs = append(errs, fmt.Errorf("stall timeout must be in (0, %s], got %s", MaxStallTimeout, c.StallTimeout))
	}

	if c.MDNS && c.Name == "" {
		errs = append(errs, errors.New("mdns needs an instance name"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

type ClientConfig struct {
	Hub       string
	Dir       string
	ChunkSize int
	Timeout   time.Duration
	AutoYes   bool
}

func DefaultClient() ClientConfig {
	return ClientConfig{
		Dir:       DefaultDownloadDir(),
		ChunkSize: DefaultChunkSize,
		Timeout:   DefaultTimeout,
	}
}

func (c ClientConfig) Validate() error {
	var errs []error

	if c.Hub != "" {
		u, err := url.Parse(c.Hub)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("hub url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("hub url must be ws:// or wss://, got %q", c.Hub))
		}
	}

	if c.Dir == "" {
		errs = append(errs, errors.New("download dir is empty"))
	}

	if c.ChunkSize < 1 || c.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Errorf("chunk size must be in [1, %d], got %d", MaxChunkSize, c.ChunkSize))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// DefaultDownloadDir is ~/sendrop/received, or ./received without a home.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./received"
	}

	return filepath.Join(home, AppDirectoryName, "received")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return AppDirectoryName
	}

	return name
}
