package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rescuelink/internal/geo"
)

const OfflineCondition = "Offline Mode"

type Snapshot struct {
	TempC      int       `json:"temp"`
	Condition  string    `json:"condition"`
	Humidity   int       `json:"humidity"`
	WindKmh    int       `json:"windSpeed"`
	FeelsLikeC int       `json:"feelsLike"`
	Alerts     []Alert   `json:"alerts,omitempty"`
	Live       bool      `json:"live"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

type Alert struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Intensity   string `json:"intensity,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Description string `json:"description,omitempty"`
}

// Mock is shown when no API key is configured.
func Mock() Snapshot {
	s := fallback()
	s.Alerts = []Alert{{Type: "Heavy Rainfall", Severity: "high", Intensity: "50+ mm/hr", Duration: "+2 hours"}}
	return s
}

// Offline is shown while the network is down.
func Offline() Snapshot {
	s := fallback()
	s.Condition = OfflineCondition
	return s
}

func fallback() Snapshot {
	return Snapshot{TempC: 28, Condition: "Partly Cloudy", Humidity: 65, WindKmh: 12, FeelsLikeC: 30}
}

type Fetcher interface {
	Fetch(ctx context.Context, loc geo.Location) (Snapshot, error)
}

// OpenWeather fetches current conditions and alerts from an
// OpenWeatherMap-compatible API.
type OpenWeather struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewOpenWeather(apiKey, baseURL string) *OpenWeather {
	return &OpenWeather{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type currentResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type alertsResponse struct {
	Alerts []struct {
		Event       string `json:"event"`
		Description string `json:"description"`
	} `json:"alerts"`
}

// Fetch returns live conditions. A failed alerts lookup leaves Alerts empty
// rather than failing the whole snapshot.
func (o *OpenWeather) Fetch(ctx context.Context, loc geo.Location) (Snapshot, error) {
	if o.apiKey == "" {
		return Snapshot{}, errors.New("weather api key not configured")
	}
	var cur currentResponse
	q := o.query(loc)
	q.Set("units", "metric")
	if err := o.getJSON(ctx, "/weather", q, &cur); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		TempC:      int(math.Round(cur.Main.Temp)),
		FeelsLikeC: int(math.Round(cur.Main.FeelsLike)),
		Humidity:   cur.Main.Humidity,
		WindKmh:    int(math.Round(cur.Wind.Speed * 3.6)),
		Live:       true,
	}
	if len(cur.Weather) > 0 {
		snap.Condition = cur.Weather[0].Main
	}

	var al alertsResponse
	q = o.query(loc)
	q.Set("exclude", "minutely,hourly,daily")
	if err := o.getJSON(ctx, "/onecall", q, &al); err == nil {
		for _, a := range al.Alerts {
			snap.Alerts = append(snap.Alerts, Alert{Type: a.Event, Severity: "high", Description: a.Description})
		}
	}
	return snap, nil
}

func (o *OpenWeather) query(loc geo.Location) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(loc.Lng, 'f', -1, 64))
	q.Set("appid", o.apiKey)
	return q
}

func (o *OpenWeather) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	res, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
