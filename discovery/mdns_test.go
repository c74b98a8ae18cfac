package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/MswTester/sendrop/config"
	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertiseRegistersService(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		Instance: "office-hub",
		Port:     3000,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.NoError(t, Advertise(ctx, cfg))

	assert.Equal(t, "office-hub", gotInstance)
	assert.Equal(t, config.ServiceType, gotService)
	assert.Equal(t, DefaultDomain, gotDomain)
	assert.Equal(t, 3000, gotPort)
	assert.ElementsMatch(t, []string{"path=/ws", "version=1"}, gotTXT)
}

func TestAdvertiseValidates(t *testing.T) {
	assert.Error(t, Advertise(t.Context(), Config{Port: 3000}))
	assert.Error(t, Advertise(t.Context(), Config{Instance: "x"}))
}

func TestBrowseCollectsHubs(t *testing.T) {
	cfg := Config{
		ScanTimeout: 50 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			assert.Equal(t, config.ServiceType, service)

			b := zeroconf.NewServiceEntry("kitchen", service, domain)
			b.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.30")}
			b.Port = 3000
			b.Text = []string{"path=/ws", "version=1"}

			a := zeroconf.NewServiceEntry("attic", service, domain)
			a.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.31")}
			a.Port = 4000
			a.Text = []string{"version=2", "garbage"}

			noAddr := zeroconf.NewServiceEntry("ghost", service, domain)
			noAddr.Port = 3000

			entries <- b
			entries <- a
			entries <- noAddr
			entries <- b
			return nil
		},
	}

	hubs, err := Browse(t.Context(), cfg)
	require.NoError(t, err)
	require.Len(t, hubs, 2)

	assert.Equal(t, "attic", hubs[0].Instance)
	assert.Equal(t, 2, hubs[0].Version)
	assert.Equal(t, "ws://192.168.1.31:4000/ws", hubs[0].URL())

	assert.Equal(t, "kitchen", hubs[1].Instance)
	assert.Equal(t, "ws://192.168.1.30:3000/ws", hubs[1].URL())
}

func TestFirstWithoutHubs(t *testing.T) {
	cfg := Config{
		ScanTimeout: 20 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return nil
		},
	}

	_, err := First(t.Context(), cfg)
	assert.ErrorIs(t, err, ErrNoHub)
}
