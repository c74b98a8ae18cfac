// Package discovery advertises the hub on the LAN and finds hubs for the client.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MswTester/sendrop/config"
	"github.com/grandcat/zeroconf"
)

const (
	DefaultDomain      = "local."
	DefaultVersion     = 1
	DefaultScanTimeout = 3 * time.Second
)

var ErrNoHub = errors.New("no sendrop hub found on the network")

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

type Config struct {
	Instance    string
	Port        int
	Path        string
	ScanTimeout time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Path == "" {
		out.Path = config.WSPath
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Hub is one advertised hub.
type Hub struct {
	Instance string
	Host     string
	Addr     string
	Port     int
	Path     string
	Version  int
}

func (h Hub) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(h.Addr, strconv.Itoa(h.Port)), h.Path)
}

// Advertise registers the hub and keeps it registered until ctx is done.
func Advertise(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	if strings.TrimSpace(cfg.Instance) == "" {
		return errors.New("instance name is required")
	}
	if cfg.Port <= 0 {
		return errors.New("port must be > 0")
	}

	txt := []string{
		"path=" + cfg.Path,
		"version=" + strconv.Itoa(DefaultVersion),
	}

	server, err := cfg.registerFn(cfg.Instance, config.ServiceType, DefaultDomain, cfg.Port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	<-ctx.Done()

	if server != nil {
		server.Shutdown()
	}

	return nil
}

// Browse scans for hubs for cfg.ScanTimeout.
func Browse(ctx context.Context, cfg Config) ([]Hub, error) {
	cfg = cfg.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browse(scanCtx, config.ServiceType, DefaultDomain, entries); err != nil {
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}

	seen := make(map[string]Hub)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sorted(seen), nil
			}
			if hub, ok := fromEntry(entry); ok {
				seen[hub.URL()] = hub
			}
		case <-scanCtx.Done():
			return sorted(seen), nil
		}
	}
}

// First returns the first hub found, or ErrNoHub.
func First(ctx context.Context, cfg Config) (Hub, error) {
	hubs, err := Browse(ctx, cfg)
	if err != nil {
		return Hub{}, err
	}

	if len(hubs) == 0 {
		return Hub{}, ErrNoHub
	}

	return hubs[0], nil
}

func fromEntry(entry *zeroconf.ServiceEntry) (Hub, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 || entry.Port <= 0 {
		return Hub{}, false
	}

	hub := Hub{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Addr:     entry.AddrIPv4[0].String(),
		Port:     entry.Port,
		Path:     config.WSPath,
	}

	for _, kv := range entry.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}

		switch key {
		case "path":
			if strings.HasPrefix(value, "/") {
				hub.Path = value
			}
		case "version":
			hub.Version, _ = strconv.Atoi(value)
		}
	}

	return hub, true
}

func sorted(seen map[string]Hub) []Hub {
	hubs := make([]Hub, 0, len(seen))
	for _, h := range seen {
		hubs = append(hubs, h)
	}

	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Instance != hubs[j].Instance {
			return hubs[i].Instance < hubs[j].Instance
		}
		return hubs[i].Addr < hubs[j].Addr
	})

	return hubs
}
