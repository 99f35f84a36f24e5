package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rescuelink/internal/config"
	"rescuelink/internal/doctor"
	"rescuelink/internal/logging"
	"rescuelink/internal/netmon"
	"rescuelink/internal/paths"
	"rescuelink/internal/ui"
	"rescuelink/internal/version"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

type globals struct {
	configPath string
	homePath   string
	logLevel   string
}

// Run executes the command line and returns the process exit code.
func Run(app string, args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(root.ErrOrStderr(), "%s: %v\n", app, err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 2
}

func newRootCmd(app string) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           app,
		Short:         "Field connectivity manager with mesh fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if g.homePath != "" {
				_ = os.Setenv(paths.EnvHome, g.homePath)
			}
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file (default: <home>/config.yaml)")
	root.PersistentFlags().StringVar(&g.homePath, "home", "", "rescuelink home directory")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level (debug|info|warn|error)")

	root.AddCommand(
		newRunCmd(g),
		newTUICmd(g),
		newServeAPICmd(g),
		newStatusCmd(g),
		newBroadcastCmd(g),
		newInitCmd(g),
		newDoctorCmd(g),
		newVersionCmd(),
	)
	return root
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	homeDir, err := paths.HomeDir()
	if err != nil {
		return paths.ConfigFile
	}
	return paths.ConfigPath(homeDir)
}

// loadConfig resolves and reads the config, applying flag overrides.
func (g *globals) loadConfig() (config.Config, string, error) {
	path := resolveConfigPath(g.configPath)
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return config.Config{}, "", exitCode(1, "config: %v", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if cfg.Log.Rotation.Enable && !filepath.IsAbs(cfg.Log.Rotation.Filename) {
		if home, err := paths.HomeDir(); err == nil {
			cfg.Log.Rotation.Filename = paths.ResolveInHome(home, cfg.Log.Rotation.Filename)
		}
	}
	return cfg, path, nil
}

func (g *globals) load() (config.Config, string, *zap.Logger, error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return config.Config{}, "", nil, err
	}
	return cfg, path, logging.New(cfg.Log), nil
}

func newRunCmd(g *globals) *cobra.Command {
	var serveAPI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connectivity daemon headless",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, logger, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			s := newStack(cfg, path, logger)
			logger.Info("starting", zap.String("version", version.Version), zap.String("peer_id", s.client.PeerID()), zap.String("config", path))
			if err := s.run(cmd.Context(), serveAPI); err != nil {
				return exitCode(1, "run: %v", err)
			}
			logger.Info("stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&serveAPI, "api", true, "serve the directions/places API")
	return cmd
}

func newTUICmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the daemon with the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := g.loadConfig()
			if err != nil {
				return err
			}
			// The terminal belongs to the UI, so console logs go to a file.
			home, err := paths.HomeDir()
			if err != nil {
				return exitCode(1, "tui: %v", err)
			}
			cfg.Log.Outputs = tuiOutputs(cfg.Log.Outputs, paths.LogsDir(home))
			logger := logging.New(cfg.Log)
			defer func() { _ = logger.Sync() }()

			s := newStack(cfg, path, logger)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			grp, gctx := errgroup.WithContext(ctx)
			grp.Go(func() error { return s.run(gctx, true) })
			uiErr := ui.Run(gctx, ui.Deps{
				Config:   cfg,
				Source:   s.orch,
				Weather:  s.weather,
				Location: s.router.Location,
				PeerID:   s.client.PeerID(),
			})
			cancel()
			if err := multierr.Append(uiErr, grp.Wait()); err != nil {
				return exitCode(1, "tui: %v", err)
			}
			return nil
		},
	}
}

// tuiOutputs replaces console sinks with a log file under logsDir.
func tuiOutputs(outputs []string, logsDir string) []string {
	out := make([]string, 0, len(outputs))
	replaced := false
	for _, o := range outputs {
		switch strings.ToLower(o) {
		case "stdout", "stderr":
			if !replaced {
				out = append(out, filepath.Join(logsDir, "rescuelink.log"))
				replaced = true
			}
		default:
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = append(out, filepath.Join(logsDir, "rescuelink.log"))
	}
	return out
}

func newServeAPICmd(g *globals) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve-api",
		Short: "Serve only the directions and nearby-places API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, logger, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if listen != "" {
				cfg.API.Listen = listen
			}
			s := newStack(cfg, path, logger)
			s.api.Status = nil
			logger.Info("api listening", zap.String("listen", cfg.API.Listen))
			if err := s.api.Run(cmd.Context()); err != nil {
				return exitCode(1, "serve-api: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override api.listen")
	return cmd
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe connectivity once and print online or offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := g.loadConfig()
			if err != nil {
				return err
			}
			probe := netmon.NewProbeSignal(cfg.Monitor.ProbeTargets, cfg.Monitor.ProbeTimeout)
			online, perr := probe.Online(cmd.Context())
			return printStatus(cmd, path, cfg, online, perr)
		},
	}
}

func printStatus(cmd *cobra.Command, path string, cfg config.Config, online bool, probeErr error) error {
	w := cmd.OutOrStdout()
	state := "offline"
	if online {
		state = "online"
	}
	fmt.Fprintf(w, "connectivity: %s\n", state)
	if probeErr != nil {
		fmt.Fprintf(w, "probe error: %v\n", probeErr)
	}
	fmt.Fprintf(w, "config: %s\n", path)
	fmt.Fprintf(w, "mesh endpoint: %s\n", cfg.Mesh.Endpoint)
	fmt.Fprintf(w, "location: %s\n", locationOf(cfg))
	if !online {
		return &exitError{code: 1, err: errors.New("offline")}
	}
	return nil
}

func newBroadcastCmd(g *globals) *cobra.Command {
	var (
		wait           time.Duration
		allowSimulated bool
	)
	cmd := &cobra.Command{
		Use:   "broadcast <text>",
		Short: "Send an emergency broadcast over the mesh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, logger, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			s := newStack(cfg, path, logger)
			return s.broadcastOnce(cmd.Context(), strings.Join(args, " "), wait, allowSimulated, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for a mesh connection")
	cmd.Flags().BoolVar(&allowSimulated, "allow-simulated", false, "send even if only the local simulated mesh is available")
	return cmd
}

func newInitCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config into the home directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			homeDir, err := paths.HomeDir()
			if err != nil {
				return exitCode(1, "init: %v", err)
			}
			for _, dir := range []string{homeDir, paths.LogsDir(homeDir)} {
				if err := paths.EnsureDir(dir); err != nil {
					return exitCode(1, "init: %v", err)
				}
			}
			path := resolveConfigPath(g.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return exitCode(1, "init: config already exists (%s), use --force to overwrite", path)
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return exitCode(1, "init: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "init: created %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func newDoctorCmd(g *globals) *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			home, _ := paths.HomeDir()
			results := doctor.New(cfg, home).Run(cmd.Context(), deep)
			fmt.Fprint(cmd.OutOrStdout(), doctor.Format(results))
			if doctor.Failed(results) {
				return exitCode(1, "doctor: checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "also probe the network and the mesh endpoint")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}
