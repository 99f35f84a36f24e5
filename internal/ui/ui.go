package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"rescuelink/internal/config"
	"rescuelink/internal/connectivity"
	"rescuelink/internal/geo"
	"rescuelink/internal/mesh"
	"rescuelink/internal/version"
	"rescuelink/internal/weather"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type view int

const (
	viewHome view = iota
	viewMesh
	viewMessages
	viewBroadcast
	viewWeather
	viewStatus
)

const tickRate = 250 * time.Millisecond

type tickMsg time.Time

const banner = ` ____                           _     _       _
|  _ \ ___  ___  ___ _   _  ___| |   (_)_ __ | | __
| |_) / _ \/ __|/ __| | | |/ _ \ |   | | '_ \| |/ /
|  _ <  __/\__ \ (__| |_| |  __/ |___| | | | |   <
|_| \_\___||___/\___|\__,_|\___|_____|_|_| |_|_|\_\`

// Source is the connectivity read interface plus the one write the UI may
// make.
type Source interface {
	Snapshot() connectivity.Snapshot
	Subscribe(fn func(connectivity.Snapshot)) func()
	Broadcast(content string) bool
}

type WeatherSource interface {
	Current() weather.Snapshot
}

type Deps struct {
	Config   config.Config
	Source   Source
	Weather  WeatherSource
	Location func() geo.Location
	PeerID   string
}

type model struct {
	deps    Deps
	theme   theme
	updates <-chan connectivity.Snapshot

	view   view
	cursor int
	menu   []string
	inMenu bool
	tick   int
	width  int
	height int

	snap    connectivity.Snapshot
	weather weather.Snapshot

	composing bool
	input     string
	lastMsg   string
	lastErr   string
	showHelp  bool

	metrics       metricsSnapshot
	lastNetRx     uint64
	lastNetTx     uint64
	lastMetricsAt time.Time
}

type snapshotMsg struct {
	Snap connectivity.Snapshot
	OK   bool
}

type broadcastResultMsg struct {
	Content string
	Sent    bool
}

type metricsSnapshot struct {
	CPUPercent float64
	MemPercent float64
	NetRxBytes uint64
	NetTxBytes uint64
	NetRxRate  float64
	NetTxRate  float64
}

type metricsMsg struct {
	Stats metricsSnapshot
	Err   error
}

type theme struct {
	accent  lipgloss.Color
	muted   lipgloss.Color
	alert   lipgloss.Color
	meshing lipgloss.Color
	online  lipgloss.Color
}

func themeFor(name string) theme {
	if name == "light" {
		return theme{accent: "25", muted: "242", alert: "160", meshing: "27", online: "28"}
	}
	return theme{accent: "205", muted: "245", alert: "196", meshing: "39", online: "42"}
}

func initialModel(deps Deps, updates <-chan connectivity.Snapshot) model {
	m := model{
		deps:    deps,
		theme:   themeFor(deps.Config.UI.Theme),
		updates: updates,
		menu:    []string{"Home", "Mesh", "Messages", "Broadcast", "Weather", "Status"},
		view:    viewHome,
		inMenu:  true,
	}
	if deps.Source != nil {
		m.snap = deps.Source.Snapshot()
	}
	if deps.Weather != nil {
		m.weather = deps.Weather.Current()
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), metricsCmd(), waitSnapshotCmd(m.updates))
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.tick++
		if m.deps.Weather != nil {
			m.weather = m.deps.Weather.Current()
		}
		cmds := []tea.Cmd{tickCmd()}
		if m.tick%8 == 0 {
			cmds = append(cmds, metricsCmd())
		}
		return m, tea.Batch(cmds...)
	case snapshotMsg:
		if !msg.OK {
			return m, nil
		}
		m.snap = msg.Snap
		return m, waitSnapshotCmd(m.updates)
	case broadcastResultMsg:
		if msg.Sent {
			m.lastErr = ""
			m.lastMsg = fmt.Sprintf("broadcast sent to %d peers", len(m.snap.Peers))
		} else {
			m.lastMsg = ""
			m.lastErr = "broadcast failed: mesh not connected"
		}
	case metricsMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
			break
		}
		now := time.Now()
		if !m.lastMetricsAt.IsZero() {
			dt := now.Sub(m.lastMetricsAt).Seconds()
			if dt > 0 {
				msg.Stats.NetRxRate = float64(msg.Stats.NetRxBytes-m.lastNetRx) / dt
				msg.Stats.NetTxRate = float64(msg.Stats.NetTxBytes-m.lastNetTx) / dt
			}
		}
		m.lastNetRx = msg.Stats.NetRxBytes
		m.lastNetTx = msg.Stats.NetTxBytes
		m.lastMetricsAt = now
		m.metrics = msg.Stats
	case tea.KeyMsg:
		if m.composing {
			switch msg.Type {
			case tea.KeyEsc:
				m.composing = false
				m.input = ""
				return m, nil
			case tea.KeyEnter:
				text := strings.TrimSpace(m.input)
				m.composing = false
				m.input = ""
				if text == "" {
					m.lastErr = "broadcast: empty message"
					m.lastMsg = ""
					return m, nil
				}
				return m, broadcastCmd(m.deps.Source, text)
			case tea.KeyBackspace, tea.KeyDelete:
				m.input = trimLastRune(m.input)
				return m, nil
			case tea.KeyRunes, tea.KeySpace:
				m.input += string(msg.Runes)
				return m, nil
			default:
				return m, nil
			}
		}
		if msg.String() == "?" {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.view == viewBroadcast && msg.String() == "b" {
			if !m.snap.CanBroadcast() {
				m.lastErr = "broadcast needs an active mesh"
				m.lastMsg = ""
				return m, nil
			}
			m.composing = true
			m.input = ""
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter", "right":
			if m.inMenu {
				m.inMenu = false
				m.view = view(m.cursor)
			}
		case "left", "esc":
			m.inMenu = true
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.view = view(m.cursor)
			}
		case "down", "j":
			if m.cursor < len(m.menu)-1 {
				m.cursor++
				m.view = view(m.cursor)
			}
		case "1", "2", "3", "4", "5", "6":
			idx := int(msg.String()[0] - '1')
			if idx < len(m.menu) {
				m.cursor = idx
				m.view = view(idx)
			}
		}
	}
	return m, nil
}

func (m model) View() string {
	appStyle := lipgloss.NewStyle().Padding(1, 2)
	if m.showHelp {
		return appStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerView(m), statusBar(m), helpView(m), footerView(m)))
	}
	layout := lipgloss.JoinVertical(lipgloss.Left,
		headerView(m),
		statusBar(m),
		lipgloss.JoinHorizontal(lipgloss.Top, sidebarView(m), mainView(m)),
		footerView(m),
	)
	return appStyle.Render(layout)
}

func headerView(m model) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.accent).Render("RESCUELINK")
	subtitle := lipgloss.NewStyle().Foreground(m.theme.muted).Render("v" + version.Version + " - field connectivity")
	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", subtitle)
}

func statusBar(m model) string {
	color := m.theme.online
	switch m.snap.State {
	case connectivity.OfflineSearching:
		color = m.theme.alert
	case connectivity.OfflineMeshConnected:
		color = m.theme.meshing
	}
	text := m.snap.Banner()
	if m.snap.State == connectivity.OfflineSearching {
		text += " " + spinner(m.tick)
	}
	if m.snap.Simulated && m.snap.State == connectivity.OfflineMeshConnected {
		text += " (simulated)"
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(text)
}

func sidebarView(m model) string {
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	var b strings.Builder
	if m.inMenu {
		b.WriteString("Menu (focus)\n\n")
	} else {
		b.WriteString("Menu (left/esc)\n\n")
	}
	for i, item := range m.menu {
		cursor := " "
		style := lipgloss.NewStyle()
		if i == m.cursor {
			cursor = ">"
			if m.inMenu {
				style = style.Bold(true).Foreground(lipgloss.Color("229"))
			} else {
				style = style.Foreground(m.theme.muted)
			}
		}
		b.WriteString(fmt.Sprintf("%s %s\n", cursor, style.Render(item)))
	}
	b.WriteString("\n")
	b.WriteString("Peers: " + fmt.Sprint(len(m.snap.Peers)) + "\n")
	b.WriteString("Alerts: " + fmt.Sprint(len(m.snap.Messages)) + "\n")
	return box.Render(b.String())
}

func mainView(m model) string {
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Width(max(44, m.width-30))
	switch m.view {
	case viewHome:
		return box.Render(homeView(m))
	case viewMesh:
		return box.Render(meshView(m))
	case viewMessages:
		return box.Render(messagesView(m))
	case viewBroadcast:
		return box.Render(broadcastView(m))
	case viewWeather:
		return box.Render(weatherView(m))
	case viewStatus:
		return box.Render(statusView(m))
	default:
		return box.Render("Unknown view")
	}
}

func footerView(m model) string {
	hint := "Up/Down: menu | Enter/Right: open | Left/Esc: back | b: broadcast (Broadcast view) | ?: help | q: quit"
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(hint)
}

func homeView(m model) string {
	art := lipgloss.NewStyle().Foreground(m.theme.accent).Render(banner)
	w := m.weather
	weatherLine := "-"
	if w.Condition != "" {
		weatherLine = fmt.Sprintf("%d°C %s, wind %d km/h, humidity %d%%", w.TempC, w.Condition, w.WindKmh, w.Humidity)
	}
	alert := ""
	if len(w.Alerts) > 0 {
		alert = "\n" + lipgloss.NewStyle().Foreground(m.theme.alert).Bold(true).
			Render(fmt.Sprintf("Weather Alert: %s (severity %s)", w.Alerts[0].Type, w.Alerts[0].Severity))
	}
	last := "-"
	if n := len(m.snap.Messages); n > 0 {
		last = m.snap.Messages[n-1].Content
	}
	return fmt.Sprintf(
		"%s\n\nConnectivity: %s\nWeather: %s%s\nLast alert: %s\n\nDevice\nCPU  [%s] %.1f%%\nRAM  [%s] %.1f%%\nNet  RX %.0f KB/s | TX %.0f KB/s",
		art,
		m.snap.State,
		weatherLine, alert,
		last,
		bar(int(m.metrics.CPUPercent), 100, 20), m.metrics.CPUPercent,
		bar(int(m.metrics.MemPercent), 100, 20), m.metrics.MemPercent,
		m.metrics.NetRxRate/1024, m.metrics.NetTxRate/1024,
	)
}

func meshView(m model) string {
	if !m.snap.State.Offline() {
		return "Mesh\n\nOnline: mesh transport is idle."
	}
	if len(m.snap.Peers) == 0 {
		return "Mesh\n\nSearching for nearby peers " + spinner(m.tick)
	}
	peers := append([]mesh.PeerRecord(nil), m.snap.Peers...)
	sort.SliceStable(peers, func(i, j int) bool { return peers[i].DistanceKm < peers[j].DistanceKm })
	var b strings.Builder
	b.WriteString("Mesh\n\n")
	for _, p := range peers {
		b.WriteString(fmt.Sprintf("- %-24s %-10s %5.1f km\n", p.DisplayName, emptyIf(p.Role), p.DistanceKm))
	}
	if len(m.snap.Resources) > 0 {
		b.WriteString("\nShared resources:\n")
		ids := make([]string, 0, len(m.snap.Resources))
		for id := range m.snap.Resources {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			b.WriteString(fmt.Sprintf("- %s: %s\n", id, string(m.snap.Resources[id].Payload)))
		}
	}
	return b.String()
}

func messagesView(m model) string {
	if len(m.snap.Messages) == 0 {
		return "Messages\n\nNo emergency broadcasts yet."
	}
	var b strings.Builder
	b.WriteString("Messages\n\n")
	start := 0
	if limit := max(5, m.height-14); len(m.snap.Messages) > limit {
		start = len(m.snap.Messages) - limit
	}
	for _, msg := range m.snap.Messages[start:] {
		ts := "--:--:--"
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp).Format("15:04:05")
		}
		sender := emptyIf(msg.Sender())
		if sender == m.deps.PeerID {
			sender = "me"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", ts, sender, msg.Content))
	}
	return b.String()
}

func broadcastView(m model) string {
	line := "Press b to compose an emergency broadcast."
	if !m.snap.CanBroadcast() {
		line = "Broadcast is available once a mesh connects while offline."
	}
	if m.composing {
		line = fmt.Sprintf("Message: %s_", m.input)
	}
	return fmt.Sprintf("Broadcast\n\n%s\n\nEnter: send | Esc: cancel\n\n%s", line, lastLine(m))
}

func weatherView(m model) string {
	w := m.weather
	if w.Condition == "" {
		return "Weather\n\nNo data yet."
	}
	source := "cached"
	if w.Live {
		source = "live"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Weather (%s)\n\n%d°C, feels like %d°C\n%s\nWind %d km/h\nHumidity %d%%\n",
		source, w.TempC, w.FeelsLikeC, w.Condition, w.WindKmh, w.Humidity))
	for _, a := range w.Alerts {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(m.theme.alert).Render("Alert: "+a.Type))
		b.WriteString("\nSeverity: " + emptyIf(a.Severity))
		if a.Intensity != "" {
			b.WriteString("\nIntensity: " + a.Intensity)
		}
		if a.Duration != "" {
			b.WriteString("\nDuration: " + a.Duration)
		}
		if a.Description != "" {
			b.WriteString("\n" + a.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func statusView(m model) string {
	loc := "-"
	if m.deps.Location != nil {
		loc = m.deps.Location().String()
	}
	return fmt.Sprintf(
		"Status\n\nState: %s\nCan broadcast: %s\nSimulated mesh: %s\nPeer ID: %s\nMesh endpoint: %s\nLocation: %s\nPeers: %d\nMessages: %d\nResources: %d\n\n%s",
		m.snap.State,
		onOff(m.snap.CanBroadcast()),
		onOff(m.snap.Simulated),
		emptyIf(m.deps.PeerID),
		emptyIf(m.deps.Config.Mesh.Endpoint),
		loc,
		len(m.snap.Peers),
		len(m.snap.Messages),
		len(m.snap.Resources),
		lastLine(m),
	)
}

func helpView(m model) string {
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Width(max(60, m.width-10))
	text := "Help\n\n" +
		"Navigation:\n" +
		"- Up/Down: move menu\n" +
		"- Enter/Right: open view\n" +
		"- Left/Esc: back to menu\n" +
		"- 1-6: jump to section\n" +
		"- ?: toggle help\n\n" +
		"Broadcast:\n" +
		"- b: compose (mesh must be active)\n" +
		"- Enter: send, Esc: cancel\n\n" +
		"CLI help: rescuelink --help"
	return box.Render(text)
}

func lastLine(m model) string {
	if m.lastErr != "" {
		return "Last error: " + m.lastErr
	}
	if m.lastMsg != "" {
		return "Last action: " + m.lastMsg
	}
	return "Last action: none"
}

func spinner(tick int) string {
	frames := []string{"-", "\\", "|", "/"}
	return frames[tick%len(frames)]
}

func bar(value, maxVal, width int) string {
	if maxVal <= 0 {
		maxVal = 1
	}
	if value < 0 {
		value = 0
	}
	if value > maxVal {
		value = maxVal
	}
	filled := (value * width) / maxVal
	return strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func emptyIf(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func trimLastRune(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return string(r[:len(r)-1])
}

// Run blocks until the user quits or ctx is done.
func Run(ctx context.Context, deps Deps) error {
	updates := make(chan connectivity.Snapshot, 1)
	if deps.Source != nil {
		unsub := deps.Source.Subscribe(func(s connectivity.Snapshot) { offerLatest(updates, s) })
		defer unsub()
	}
	p := tea.NewProgram(initialModel(deps, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// offerLatest keeps only the newest snapshot queued.
func offerLatest(ch chan connectivity.Snapshot, s connectivity.Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func waitSnapshotCmd(ch <-chan connectivity.Snapshot) tea.Cmd {
	return func() tea.Msg {
		if ch == nil {
			return snapshotMsg{}
		}
		s, ok := <-ch
		return snapshotMsg{Snap: s, OK: ok}
	}
}

func broadcastCmd(src Source, content string) tea.Cmd {
	return func() tea.Msg {
		if src == nil {
			return broadcastResultMsg{Content: content}
		}
		return broadcastResultMsg{Content: content, Sent: src.Broadcast(content)}
	}
}

func metricsCmd() tea.Cmd {
	return func() tea.Msg {
		cpuPct, err := cpu.Percent(0, false)
		if err != nil || len(cpuPct) == 0 {
			return metricsMsg{Err: fmt.Errorf("cpu: %v", err)}
		}
		memStat, err := mem.VirtualMemory()
		if err != nil {
			return metricsMsg{Err: fmt.Errorf("mem: %v", err)}
		}
		netStat, err := gnet.IOCounters(false)
		if err != nil {
			return metricsMsg{Err: fmt.Errorf("net: %v", err)}
		}
		var rx, tx uint64
		for _, n := range netStat {
			rx += n.BytesRecv
			tx += n.BytesSent
		}
		return metricsMsg{Stats: metricsSnapshot{
			CPUPercent: cpuPct[0],
			MemPercent: memStat.UsedPercent,
			NetRxBytes: rx,
			NetTxBytes: tx,
		}}
	}
}
