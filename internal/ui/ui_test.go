package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuelink/internal/config"
	"rescuelink/internal/connectivity"
	"rescuelink/internal/geo"
	"rescuelink/internal/mesh"
	"rescuelink/internal/weather"
)

type fakeSource struct {
	snap  connectivity.Snapshot
	sent  []string
	allow bool
}

func (f *fakeSource) Snapshot() connectivity.Snapshot { return f.snap }

func (f *fakeSource) Subscribe(func(connectivity.Snapshot)) func() { return func() {} }

func (f *fakeSource) Broadcast(content string) bool {
	if !f.allow {
		return false
	}
	f.sent = append(f.sent, content)
	return true
}

type fixedWeather weather.Snapshot

func (w fixedWeather) Current() weather.Snapshot { return weather.Snapshot(w) }

func meshSnapshot() connectivity.Snapshot {
	return connectivity.Snapshot{
		State:     connectivity.OfflineMeshConnected,
		Simulated: true,
		Peers: []mesh.PeerRecord{
			{ID: "peer_2", DisplayName: "Medical Team", Role: "medical", DistanceKm: 1.2},
			{ID: "peer_1", DisplayName: "Emergency Responder 1", Role: "responder", DistanceKm: 0.5},
		},
		Messages: []mesh.Message{{Type: mesh.TypeEmergencyBroadcast, SenderID: "peer_1", Content: "bridge down"}},
	}
}

func newModel(src *fakeSource) model {
	return initialModel(Deps{
		Config:   config.DefaultConfig(),
		Source:   src,
		Weather:  fixedWeather(weather.Mock()),
		Location: func() geo.Location { return geo.Location{Lat: 12.9716, Lng: 77.5946} },
		PeerID:   "peer_abc",
	}, nil)
}

func press(t *testing.T, m model, keys ...tea.KeyMsg) (model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(model)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestStatusBarFollowsSnapshot(t *testing.T) {
	src := &fakeSource{snap: connectivity.Snapshot{State: connectivity.Online}}
	m := newModel(src)
	assert.Contains(t, statusBar(m), "Online")

	next, cmd := m.Update(snapshotMsg{Snap: meshSnapshot(), OK: true})
	m = next.(model)
	assert.NotNil(t, cmd)
	assert.Contains(t, statusBar(m), "Mesh Network Active")
	assert.Contains(t, statusBar(m), "(simulated)")

	next, cmd = m.Update(snapshotMsg{})
	assert.Nil(t, cmd)
	assert.Equal(t, m.snap.State, next.(model).snap.State)
}

func TestMeshViewSortsByDistance(t *testing.T) {
	m := newModel(&fakeSource{snap: meshSnapshot()})
	out := meshView(m)
	assert.Less(t, strings.Index(out, "Emergency Responder 1"), strings.Index(out, "Medical Team"))

	m.snap = connectivity.Snapshot{State: connectivity.OfflineSearching}
	assert.Contains(t, meshView(m), "Searching")
	m.snap = connectivity.Snapshot{State: connectivity.Online}
	assert.Contains(t, meshView(m), "idle")
}

func TestMessagesViewMarksOwnMessages(t *testing.T) {
	snap := meshSnapshot()
	snap.Messages = append(snap.Messages, mesh.Message{Type: mesh.TypeEmergencyBroadcast, SenderID: "peer_abc", Content: "need water"})
	m := newModel(&fakeSource{snap: snap})
	out := messagesView(m)
	assert.Contains(t, out, "peer_1: bridge down")
	assert.Contains(t, out, "me: need water")
}

func TestComposeAndSend(t *testing.T) {
	src := &fakeSource{snap: meshSnapshot(), allow: true}
	m := newModel(src)
	m, _ = press(t, m, runes("4"))
	require.Equal(t, viewBroadcast, m.view)

	m, _ = press(t, m, runes("b"))
	require.True(t, m.composing)
	m, _ = press(t, m, runes("h"), runes("e"), runes("l"), runes("p"), runes("x"), tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, "help", m.input)
	assert.Contains(t, broadcastView(m), "Message: help_")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.False(t, m.composing)

	next, _ := m.Update(cmd())
	m = next.(model)
	assert.Equal(t, []string{"help"}, src.sent)
	assert.Contains(t, m.lastMsg, "broadcast sent")
}

func TestComposeRequiresMesh(t *testing.T) {
	m := newModel(&fakeSource{snap: connectivity.Snapshot{State: connectivity.OfflineSearching}})
	m, _ = press(t, m, runes("4"), runes("b"))
	assert.False(t, m.composing)
	assert.Contains(t, m.lastErr, "active mesh")
}

func TestComposeEscAndEmpty(t *testing.T) {
	m := newModel(&fakeSource{snap: meshSnapshot(), allow: true})
	m, _ = press(t, m, runes("4"), runes("b"), runes("x"), tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.composing)
	assert.Empty(t, m.input)

	m, cmd := press(t, m, runes("b"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Contains(t, m.lastErr, "empty")
}

func TestBroadcastFailureReported(t *testing.T) {
	m := newModel(&fakeSource{snap: meshSnapshot()})
	next, _ := m.Update(broadcastResultMsg{Content: "x"})
	assert.Contains(t, next.(model).lastErr, "broadcast failed")
}

func TestNavigationAndQuit(t *testing.T) {
	m := newModel(&fakeSource{})
	m, _ = press(t, m, runes("j"), runes("j"))
	assert.Equal(t, viewMessages, m.view)
	m, _ = press(t, m, runes("k"))
	assert.Equal(t, viewMesh, m.view)
	m, _ = press(t, m, runes("?"))
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "toggle help")

	_, cmd := press(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestWeatherView(t *testing.T) {
	m := newModel(&fakeSource{})
	out := weatherView(m)
	assert.Contains(t, out, "Heavy Rainfall")
	assert.Contains(t, out, "°C")

	m.weather = weather.Snapshot{}
	assert.Contains(t, weatherView(m), "No data")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "##########----------", bar(50, 100, 20))
	assert.Equal(t, "--------------------", bar(-5, 100, 20))
	assert.Equal(t, "####################", bar(500, 100, 20))
	assert.Equal(t, "ab", trimLastRune("abç"))
	assert.Equal(t, "", trimLastRune(""))
	assert.Equal(t, "-", emptyIf(""))
	assert.Equal(t, "on", onOff(true))
}

func TestOfferLatestKeepsNewest(t *testing.T) {
	ch := make(chan connectivity.Snapshot, 1)
	offerLatest(ch, connectivity.Snapshot{State: connectivity.OfflineSearching})
	offerLatest(ch, connectivity.Snapshot{State: connectivity.OfflineMeshConnected})
	got := waitSnapshotCmd(ch)().(snapshotMsg)
	assert.True(t, got.OK)
	assert.Equal(t, connectivity.OfflineMeshConnected, got.Snap.State)

	close(ch)
	assert.False(t, waitSnapshotCmd(ch)().(snapshotMsg).OK)
}
