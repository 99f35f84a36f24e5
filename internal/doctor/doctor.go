package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	gnet "github.com/shirou/gopsutil/v3/net"

	"rescuelink/internal/config"
	"rescuelink/internal/mesh"
)

type Status string

const (
	OK   Status = "ok"
	Warn Status = "warn"
	Err  Status = "err"
)

type CheckResult struct {
	Name   string
	Status Status
	Detail string
}

// Doctor checks the local setup. The function fields are swapped in tests.
type Doctor struct {
	Config config.Config
	Home   string

	lookPath   func(string) (string, error)
	interfaces func(ctx context.Context) (gnet.InterfaceStatList, error)
	dialTCP    func(ctx context.Context, network, addr string) (net.Conn, error)
	dialer     mesh.Dialer
}

func New(cfg config.Config, home string) *Doctor {
	d := &net.Dialer{}
	return &Doctor{
		Config:     cfg,
		Home:       home,
		lookPath:   exec.LookPath,
		interfaces: gnet.InterfacesWithContext,
		dialTCP:    d.DialContext,
		dialer:     mesh.NewWebSocketDialer(cfg.Mesh.DialTimeout, cfg.Mesh.WriteTimeout),
	}
}

// Run performs the offline checks. Deep adds network probes.
func (d *Doctor) Run(ctx context.Context, deep bool) []CheckResult {
	results := []CheckResult{}
	add := func(name string, status Status, detail string) {
		results = append(results, CheckResult{Name: name, Status: status, Detail: detail})
	}

	add("config", OK, "loaded")
	d.checkHome(add)
	d.checkNotify(add)
	d.checkInterfaces(ctx, add)

	if d.Config.Weather.APIKey == "" {
		add("weather", Warn, "no api_key, showing mock data")
	} else {
		add("weather", OK, "api key set")
	}
	if d.Config.API.MapsAPIKey == "" {
		add("places", Warn, "no maps_api_key, /api/places disabled")
	} else {
		add("places", OK, "api key set")
	}

	if deep {
		d.checkProbes(ctx, add)
		d.checkMesh(ctx, add)
	}
	return results
}

func (d *Doctor) checkHome(add func(string, Status, string)) {
	if d.Home == "" {
		add("home", Err, "home directory not resolved")
		return
	}
	if err := os.MkdirAll(d.Home, 0700); err != nil {
		add("home", Err, err.Error())
		return
	}
	f, err := os.CreateTemp(d.Home, ".doctor-*")
	if err != nil {
		add("home", Err, "not writable: "+err.Error())
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	add("home", OK, filepath.Clean(d.Home))
}

func (d *Doctor) checkNotify(add func(string, Status, string)) {
	if !d.Config.Notify.Enabled {
		add("notify", Warn, "disabled, alerts are log-only")
		return
	}
	argv, err := shlex.Split(d.Config.Notify.Command)
	if err != nil || len(argv) == 0 {
		add("notify", Err, "command does not parse")
		return
	}
	if _, err := d.lookPath(argv[0]); err != nil {
		add("notify", Warn, argv[0]+" not found")
		return
	}
	add("notify", OK, argv[0])
}

func (d *Doctor) checkInterfaces(ctx context.Context, add func(string, Status, string)) {
	ifaces, err := d.interfaces(ctx)
	if err != nil {
		add("interfaces", Warn, err.Error())
		return
	}
	var up []string
	for _, iface := range ifaces {
		if usable(iface) {
			up = append(up, iface.Name)
		}
	}
	if len(up) == 0 {
		add("interfaces", Warn, "no usable interface")
		return
	}
	add("interfaces", OK, strings.Join(up, ","))
}

func usable(iface gnet.InterfaceStat) bool {
	up, loopback := false, false
	for _, flag := range iface.Flags {
		switch flag {
		case "up":
			up = true
		case "loopback":
			loopback = true
		}
	}
	return up && !loopback && len(iface.Addrs) > 0
}

func (d *Doctor) checkProbes(ctx context.Context, add func(string, Status, string)) {
	if len(d.Config.Monitor.ProbeTargets) == 0 {
		add("probe", Err, "no probe targets")
		return
	}
	for _, target := range d.Config.Monitor.ProbeTargets {
		pctx, cancel := context.WithTimeout(ctx, d.Config.Monitor.ProbeTimeout)
		start := time.Now()
		conn, err := d.dialTCP(pctx, "tcp", target)
		cancel()
		if err != nil {
			add("probe", Warn, fmt.Sprintf("%s unreachable", target))
			continue
		}
		_ = conn.Close()
		add("probe", OK, fmt.Sprintf("%s %s", target, time.Since(start).Round(time.Millisecond)))
	}
}

func (d *Doctor) checkMesh(ctx context.Context, add func(string, Status, string)) {
	endpoint := d.Config.Mesh.Endpoint
	conn, err := d.dialer.Dial(ctx, endpoint)
	if err != nil {
		if d.Config.Mesh.SimulateOnFailure {
			add("mesh", Warn, endpoint+" unreachable, simulated peers will be used")
		} else {
			add("mesh", Err, endpoint+" unreachable")
		}
		return
	}
	_ = conn.Close()
	add("mesh", OK, endpoint)
}

// Failed reports whether any check errored.
func Failed(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == Err {
			return true
		}
	}
	return false
}

func Format(results []CheckResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s] %s", r.Status, r.Name)
		if r.Detail != "" {
			fmt.Fprintf(&b, " -> %s", r.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}
