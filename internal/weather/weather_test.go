package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuelink/internal/geo"
)

var here = geo.Location{Lat: 12.9716, Lng: 77.5946}

func TestOpenWeatherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "k", q.Get("appid"))
		assert.Equal(t, "12.9716", q.Get("lat"))
		assert.Equal(t, "77.5946", q.Get("lon"))
		switch r.URL.Path {
		case "/weather":
			assert.Equal(t, "metric", q.Get("units"))
			_, _ = w.Write([]byte(`{"main":{"temp":24.6,"feels_like":25.4,"humidity":81},"weather":[{"main":"Rain"}],"wind":{"speed":5}}`))
		case "/onecall":
			_, _ = w.Write([]byte(`{"alerts":[{"event":"Flood Warning","description":"River above danger mark"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	snap, err := NewOpenWeather("k", srv.URL+"/").Fetch(context.Background(), here)
	require.NoError(t, err)
	assert.Equal(t, 25, snap.TempC)
	assert.Equal(t, 25, snap.FeelsLikeC)
	assert.Equal(t, 81, snap.Humidity)
	assert.Equal(t, 18, snap.WindKmh)
	assert.Equal(t, "Rain", snap.Condition)
	assert.True(t, snap.Live)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, Alert{Type: "Flood Warning", Severity: "high", Description: "River above danger mark"}, snap.Alerts[0])
}

func TestOpenWeatherAlertsFailureKeepsConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/onecall" {
			http.Error(w, "subscription required", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"main":{"temp":30,"feels_like":33,"humidity":40},"weather":[{"main":"Clear"}],"wind":{"speed":1}}`))
	}))
	defer srv.Close()

	snap, err := NewOpenWeather("k", srv.URL).Fetch(context.Background(), here)
	require.NoError(t, err)
	assert.Equal(t, "Clear", snap.Condition)
	assert.Empty(t, snap.Alerts)
}

func TestOpenWeatherErrors(t *testing.T) {
	_, err := NewOpenWeather("", "http://unused").Fetch(context.Background(), here)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err = NewOpenWeather("bad", srv.URL).Fetch(context.Background(), here)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

type fetcherFunc func(context.Context, geo.Location) (Snapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, loc geo.Location) (Snapshot, error) {
	return f(ctx, loc)
}

func TestServiceModes(t *testing.T) {
	var online atomic.Bool
	online.Store(true)
	var fail atomic.Bool
	f := fetcherFunc(func(context.Context, geo.Location) (Snapshot, error) {
		if fail.Load() {
			return Snapshot{}, errors.New("timeout")
		}
		return Snapshot{TempC: 19, Condition: "Mist", Live: true, Alerts: []Alert{{Type: "Fog"}}}, nil
	})
	svc := NewService(f, online.Load, func() geo.Location { return here }, WithClock(clock.NewMock()))

	assert.Equal(t, "Mist", svc.Refresh(context.Background()).Condition)

	online.Store(false)
	off := svc.Refresh(context.Background())
	assert.Equal(t, OfflineCondition, off.Condition)
	assert.False(t, off.Live)
	assert.Equal(t, []Alert{{Type: "Fog"}}, off.Alerts)

	online.Store(true)
	fail.Store(true)
	fb := svc.Refresh(context.Background())
	assert.Equal(t, "Partly Cloudy", fb.Condition)
	assert.Empty(t, fb.Alerts)
}

func TestStaleLiveFetchDoesNotOverrideOffline(t *testing.T) {
	var online atomic.Bool
	online.Store(true)
	entered := make(chan struct{})
	release := make(chan struct{})
	f := fetcherFunc(func(context.Context, geo.Location) (Snapshot, error) {
		close(entered)
		<-release
		return Snapshot{Condition: "Rain", Live: true}, nil
	})
	svc := NewService(f, online.Load, func() geo.Location { return here }, WithClock(clock.NewMock()))

	done := make(chan Snapshot, 1)
	go func() { done <- svc.Refresh(context.Background()) }()
	<-entered

	online.Store(false)
	assert.Equal(t, OfflineCondition, svc.Refresh(context.Background()).Condition)

	close(release)
	assert.Equal(t, OfflineCondition, (<-done).Condition)
	assert.Equal(t, OfflineCondition, svc.Current().Condition)
	assert.False(t, svc.Current().Live)
}

func TestSupersededRefreshIsDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f := fetcherFunc(func(context.Context, geo.Location) (Snapshot, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return Snapshot{Condition: "Old"}, nil
		}
		return Snapshot{Condition: "New"}, nil
	})
	svc := NewService(f, func() bool { return true }, func() geo.Location { return here }, WithClock(clock.NewMock()))

	var updates atomic.Int32
	svc.OnUpdate(func(Snapshot) { updates.Add(1) })

	done := make(chan Snapshot, 1)
	go func() { done <- svc.Refresh(context.Background()) }()
	<-entered
	assert.Equal(t, "New", svc.Refresh(context.Background()).Condition)

	close(release)
	assert.Equal(t, "New", (<-done).Condition)
	assert.Equal(t, "New", svc.Current().Condition)
	assert.EqualValues(t, 1, updates.Load())
}

func TestServiceWithoutFetcherUsesMock(t *testing.T) {
	svc := NewService(nil, func() bool { return true }, func() geo.Location { return here })
	snap := svc.Refresh(context.Background())
	assert.Equal(t, 28, snap.TempC)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "Heavy Rainfall", snap.Alerts[0].Type)
}

func TestServiceRunRefreshesOnInterval(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(context.Context, geo.Location) (Snapshot, error) {
		calls.Add(1)
		return Snapshot{Condition: "Clear"}, nil
	})
	mock := clock.NewMock()
	svc := NewService(f, func() bool { return true }, func() geo.Location { return here },
		WithClock(mock), WithInterval(time.Minute))

	updates := make(chan Snapshot, 8)
	svc.OnUpdate(func(s Snapshot) { updates <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	<-updates
	mock.Add(time.Minute)
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after interval")
	}
	assert.EqualValues(t, 2, calls.Load())

	cancel()
	require.NoError(t, <-done)
}
