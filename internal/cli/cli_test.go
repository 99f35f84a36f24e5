package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rescuelink/internal/config"
	"rescuelink/internal/connectivity"
	"rescuelink/internal/geo"
	"rescuelink/internal/mesh"
	"rescuelink/internal/netmon"
	"rescuelink/internal/paths"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd("rescuelink")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Notify.Enabled = false
	cfg.Log.Outputs = []string{"stderr"}
	return cfg
}

var refused = mesh.DialerFunc(func(context.Context, string) (mesh.Conn, error) {
	return nil, errors.New("connection refused")
})

func offlineSignal() netmon.Signal {
	return netmon.SignalFunc(func(context.Context) (bool, error) { return false, nil })
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestInitWritesConfigOnce(t *testing.T) {
	home := t.TempDir()
	t.Setenv(paths.EnvHome, home)

	out, err := execute(t, "--home", home, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "created")
	_, err = config.Load(filepath.Join(home, paths.ConfigFile))
	require.NoError(t, err)
	assert.DirExists(t, paths.LogsDir(home))

	_, err = execute(t, "--home", home, "init")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)

	_, err = execute(t, "--home", home, "init", "--force")
	require.NoError(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mesh:\n  endpoint: http://x\n"), 0600))
	_, err := execute(t, "--config", path, "status")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
}

func TestUnknownCommandExitCode(t *testing.T) {
	assert.Equal(t, 2, Run("rescuelink", []string{"nope"}))
}

func TestBroadcastOnceSimulated(t *testing.T) {
	s := newStack(testConfig(), "", zap.NewNop(), withDialer(refused), withSignal(offlineSignal()))
	var out bytes.Buffer
	require.NoError(t, s.broadcastOnce(context.Background(), "  flood at sector 4 ", time.Second, true, &out))
	assert.Contains(t, out.String(), "simulated mesh to 3 peers")

	msgs := s.state.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "flood at sector 4", msgs[0].Content)
	assert.Equal(t, connectivity.Online, s.orch.State())
	assert.Equal(t, mesh.Idle, s.client.State())
}

func TestBroadcastOnceRefusesSimulatedMesh(t *testing.T) {
	s := newStack(testConfig(), "", zap.NewNop(), withDialer(refused), withSignal(offlineSignal()))
	var out bytes.Buffer
	err := s.broadcastOnce(context.Background(), "flood at sector 4", time.Second, false, &out)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
	assert.Contains(t, err.Error(), "--allow-simulated")
	assert.Empty(t, out.String())
	assert.Empty(t, s.state.Messages())
}

func TestBroadcastCommandSimulatedExitCode(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	cfg := testConfig()
	cfg.Mesh.Endpoint = "ws://127.0.0.1:1"
	cfg.Mesh.DialTimeout = 200 * time.Millisecond
	require.NoError(t, config.Save(path, cfg))

	code := Run("rescuelink", []string{"--home", home, "--config", path, "broadcast", "--wait", "3s", "help"})
	assert.Equal(t, 1, code)
}

func TestBroadcastOnceTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.SimulateOnFailure = false
	s := newStack(cfg, "", zap.NewNop(), withDialer(refused))
	err := s.broadcastOnce(context.Background(), "help", 100*time.Millisecond, false, &bytes.Buffer{})
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
	assert.Empty(t, s.state.Messages())
}

func TestBroadcastOnceEmpty(t *testing.T) {
	s := newStack(testConfig(), "", zap.NewNop(), withDialer(refused))
	err := s.broadcastOnce(context.Background(), "   ", time.Second, false, &bytes.Buffer{})
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.code)
}

func TestStackRunFollowsMonitor(t *testing.T) {
	s := newStack(testConfig(), "", zap.NewNop(), withDialer(refused), withSignal(offlineSignal()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, false) }()

	require.Eventually(t, func() bool {
		return s.orch.State() == connectivity.OfflineMeshConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.state.Peers(), 3)
	assert.True(t, s.orch.Snapshot().Simulated)

	body := statusBody(s.orch.Snapshot(), s.client.PeerID())
	assert.Equal(t, "offline-mesh-connected", body["state"])
	assert.Equal(t, true, body["canBroadcast"])
	assert.Equal(t, s.client.PeerID(), body["peerId"])

	require.Eventually(t, func() bool {
		return s.weather.Current().Condition != ""
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	require.Eventually(t, func() bool { return s.client.State() == mesh.Idle }, time.Second, 10*time.Millisecond)
}

func TestReloadUpdatesLocation(t *testing.T) {
	s := newStack(testConfig(), "", zap.NewNop(), withDialer(refused))
	cfg := testConfig()
	cfg.Location.Lat = 19.076
	cfg.Location.Lng = 72.8777
	s.reload(cfg)
	assert.Equal(t, geo.Location{Lat: 19.076, Lng: 72.8777}, s.router.Location())
}

func TestTUIOutputs(t *testing.T) {
	logs := filepath.Join("home", "logs")
	file := filepath.Join(logs, "rescuelink.log")
	assert.Equal(t, []string{file}, tuiOutputs([]string{"stdout", "stderr"}, logs))
	assert.Equal(t, []string{file, "/var/log/x.log"}, tuiOutputs([]string{"stdout", "/var/log/x.log"}, logs))
	assert.Equal(t, []string{file}, tuiOutputs(nil, logs))
}
