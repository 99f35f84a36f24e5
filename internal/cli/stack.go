package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rescuelink/internal/config"
	"rescuelink/internal/connectivity"
	"rescuelink/internal/geo"
	"rescuelink/internal/mesh"
	"rescuelink/internal/netmon"
	"rescuelink/internal/notify"
	"rescuelink/internal/proxy"
	"rescuelink/internal/watch"
	"rescuelink/internal/weather"
)

// stack is every long-running component of one rescuelink process.
type stack struct {
	cfg        config.Config
	configPath string
	logger     *zap.Logger

	state   *mesh.State
	router  *mesh.Router
	client  *mesh.Client
	orch    *connectivity.Orchestrator
	monitor *netmon.Monitor
	weather *weather.Service
	api     *proxy.Server
}

type stackOption func(*stackDeps)

type stackDeps struct {
	signal netmon.Signal
	dialer mesh.Dialer
}

func withSignal(s netmon.Signal) stackOption {
	return func(d *stackDeps) { d.signal = s }
}

func withDialer(dl mesh.Dialer) stackOption {
	return func(d *stackDeps) { d.dialer = dl }
}

func locationOf(cfg config.Config) geo.Location {
	return geo.Location{Lat: cfg.Location.Lat, Lng: cfg.Location.Lng}
}

func newNotifier(cfg config.NotifyConfig, logger *zap.Logger) notify.Notifier {
	if !cfg.Enabled {
		return notify.Nop()
	}
	n, err := notify.NewCommand(cfg.Command)
	if err != nil {
		logger.Warn("notifications disabled", zap.Error(err))
		return notify.Nop()
	}
	if !n.Permitted() {
		logger.Info("notification command not found, alerts are log-only", zap.String("command", cfg.Command))
	}
	return n
}

func newStack(cfg config.Config, configPath string, logger *zap.Logger, opts ...stackOption) *stack {
	deps := stackDeps{}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.signal == nil {
		deps.signal = netmon.NewProbeSignal(cfg.Monitor.ProbeTargets, cfg.Monitor.ProbeTimeout)
	}
	if deps.dialer == nil {
		deps.dialer = mesh.NewWebSocketDialer(cfg.Mesh.DialTimeout, cfg.Mesh.WriteTimeout)
	}

	loc := locationOf(cfg)
	s := &stack{cfg: cfg, configPath: configPath, logger: logger}
	s.state = mesh.NewState()
	s.router = mesh.NewRouter(s.state,
		mesh.WithNotifier(newNotifier(cfg.Notify, logger)),
		mesh.WithLocation(loc),
		mesh.WithRouterLogger(logger),
	)
	s.client = mesh.NewClient(mesh.Options{
		Endpoint:          cfg.Mesh.Endpoint,
		PeerID:            mesh.NewPeerID(),
		HeartbeatInterval: cfg.Mesh.HeartbeatInterval,
		ReconnectDelay:    cfg.Mesh.ReconnectDelay,
		ReconnectMaxDelay: cfg.Mesh.ReconnectMaxDelay,
		SimulateOnFailure: cfg.Mesh.SimulateOnFailure,
	}, s.router, mesh.WithDialer(deps.dialer), mesh.WithLogger(logger))
	s.orch = connectivity.New(s.client, s.state, connectivity.WithLogger(logger))
	s.monitor = netmon.New(deps.signal,
		netmon.WithPollInterval(cfg.Monitor.PollInterval),
		netmon.WithLogger(logger),
	)

	var fetcher weather.Fetcher
	if cfg.Weather.APIKey != "" {
		fetcher = weather.NewOpenWeather(cfg.Weather.APIKey, cfg.Weather.BaseURL)
	}
	s.weather = weather.NewService(fetcher,
		func() bool { return !s.orch.Offline() },
		s.router.Location,
		weather.WithInterval(cfg.Weather.RefreshInterval),
		weather.WithLogger(logger),
	)

	s.api = &proxy.Server{
		Listen: cfg.API.Listen,
		Upstream: proxy.Upstream{
			APIKey:        cfg.API.MapsAPIKey,
			DirectionsURL: cfg.API.DirectionsURL,
			PlacesURL:     cfg.API.PlacesURL,
		},
		Status: func() any { return statusBody(s.orch.Snapshot(), s.client.PeerID()) },
		Logger: logger,
	}
	return s
}

// statusBody is the JSON shape of /api/status.
func statusBody(snap connectivity.Snapshot, peerID string) map[string]any {
	return map[string]any{
		"state":        snap.State.String(),
		"banner":       snap.Banner(),
		"canBroadcast": snap.CanBroadcast(),
		"simulated":    snap.Simulated,
		"peerId":       peerID,
		"peers":        snap.Peers,
		"messages":     snap.Messages,
	}
}

// reload applies the hot-reloadable parts of a changed config file.
func (s *stack) reload(cfg config.Config) {
	loc := locationOf(cfg)
	if loc != s.router.Location() {
		s.client.SetLocation(loc)
		s.logger.Info("location updated", zap.Stringer("location", loc))
	}
	if cfg.Mesh.Endpoint != s.cfg.Mesh.Endpoint {
		s.logger.Warn("mesh.endpoint changes apply on restart", zap.String("endpoint", cfg.Mesh.Endpoint))
	}
	s.cfg = cfg
}

// run starts every component and blocks until ctx is done or one of them
// fails. Connectivity transitions trigger an immediate weather refresh.
func (s *stack) run(ctx context.Context, serveAPI bool) (err error) {
	g, ctx := errgroup.WithContext(ctx)

	var lastOffline atomic.Bool
	unsub := s.orch.Subscribe(func(snap connectivity.Snapshot) {
		offline := snap.State.Offline()
		if lastOffline.Swap(offline) != offline {
			s.logger.Info("status", zap.String("banner", snap.Banner()))
			go s.weather.Refresh(ctx)
		}
	})
	defer unsub()

	s.orch.Start(ctx, s.monitor)
	s.monitor.Start(ctx)

	g.Go(func() error { return s.weather.Run(ctx) })
	if serveAPI {
		g.Go(func() error { return s.api.Run(ctx) })
	}

	if s.configPath != "" {
		if _, statErr := os.Stat(s.configPath); statErr == nil {
			stop, werr := watch.Start(ctx, s.configPath, s.reload, s.logger)
			if werr != nil {
				s.logger.Warn("config watch disabled", zap.Error(werr))
			} else {
				defer func() { err = multierr.Append(err, stop()) }()
			}
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// broadcastOnce forces mesh mode, waits for a connection and sends text.
// A simulated mesh reaches no one, so it is refused unless allowSimulated.
func (s *stack) broadcastOnce(ctx context.Context, text string, wait time.Duration, allowSimulated bool, w io.Writer) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return exitCode(2, "broadcast: empty message")
	}
	defer s.orch.Close()
	s.orch.HandleSignal(false)
	defer s.orch.HandleSignal(true)

	ready := make(chan struct{}, 1)
	unsub := s.orch.Subscribe(func(snap connectivity.Snapshot) {
		if snap.CanBroadcast() {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if !s.orch.CanBroadcastOverMesh() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ready:
		case <-timer.C:
			return exitCode(1, "broadcast: no mesh connection after %s", wait)
		case <-ctx.Done():
			return exitCode(130, "broadcast: interrupted")
		}
	}
	if s.orch.Snapshot().Simulated && !allowSimulated {
		return exitCode(1, "broadcast: mesh endpoint unreachable, only the simulated mesh is up and nothing would leave this host (use --allow-simulated to send anyway)")
	}
	if !s.orch.Broadcast(text) {
		return exitCode(1, "broadcast: send failed")
	}
	snap := s.orch.Snapshot()
	mode := "mesh"
	if snap.Simulated {
		mode = "simulated mesh"
	}
	fmt.Fprintf(w, "broadcast sent over %s to %d peers\n", mode, len(snap.Peers))
	return nil
}
