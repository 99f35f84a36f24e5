package doctor

import (
	"context"
	"errors"
	"net"
	"testing"

	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuelink/internal/config"
	"rescuelink/internal/mesh"
)

func byName(results []CheckResult) map[string]CheckResult {
	out := map[string]CheckResult{}
	for _, r := range results {
		out[r.Name] = r
	}
	return out
}

func newTestDoctor(t *testing.T, cfg config.Config) *Doctor {
	t.Helper()
	d := New(cfg, t.TempDir())
	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	d.interfaces = func(context.Context) (gnet.InterfaceStatList, error) {
		return gnet.InterfaceStatList{
			{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: gnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			{Name: "wlan0", Flags: []string{"up"}, Addrs: gnet.InterfaceAddrList{{Addr: "192.168.1.4/24"}}},
		}, nil
	}
	d.dialTCP = func(context.Context, string, string) (net.Conn, error) {
		a, b := net.Pipe()
		_ = b.Close()
		return a, nil
	}
	d.dialer = mesh.DialerFunc(func(context.Context, string) (mesh.Conn, error) {
		return nil, errors.New("refused")
	})
	return d
}

func TestShallowChecks(t *testing.T) {
	d := newTestDoctor(t, config.DefaultConfig())
	results := byName(d.Run(context.Background(), false))

	assert.Equal(t, OK, results["config"].Status)
	assert.Equal(t, OK, results["home"].Status)
	assert.Equal(t, OK, results["notify"].Status)
	assert.Equal(t, "notify-send", results["notify"].Detail)
	assert.Equal(t, "wlan0", results["interfaces"].Detail)
	assert.Equal(t, Warn, results["weather"].Status)
	assert.Equal(t, Warn, results["places"].Status)
	assert.NotContains(t, results, "mesh")
}

func TestNotifyMissingIsWarning(t *testing.T) {
	d := newTestDoctor(t, config.DefaultConfig())
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	results := d.Run(context.Background(), false)
	assert.Equal(t, Warn, byName(results)["notify"].Status)
	assert.False(t, Failed(results))
}

func TestDeepMeshUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	d := newTestDoctor(t, cfg)
	results := d.Run(context.Background(), true)
	assert.Equal(t, Warn, byName(results)["mesh"].Status)
	assert.Equal(t, OK, byName(results)["probe"].Status)
	assert.False(t, Failed(results))

	cfg.Mesh.SimulateOnFailure = false
	d = newTestDoctor(t, cfg)
	results = d.Run(context.Background(), true)
	assert.Equal(t, Err, byName(results)["mesh"].Status)
	assert.True(t, Failed(results))
}

func TestHomeNotResolved(t *testing.T) {
	d := newTestDoctor(t, config.DefaultConfig())
	d.Home = ""
	results := d.Run(context.Background(), false)
	assert.Equal(t, Err, byName(results)["home"].Status)
	assert.True(t, Failed(results))
}

func TestFormat(t *testing.T) {
	out := Format([]CheckResult{{Name: "mesh", Status: OK, Detail: "ws://x"}, {Name: "home", Status: Err}})
	require.Equal(t, "[ok] mesh -> ws://x\n[err] home\n", out)
}
