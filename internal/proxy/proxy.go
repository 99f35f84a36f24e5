package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultPlacesRadius = "5000"

const maxUpstreamBytes = 4 << 20

// Upstream holds the maps endpoints the handlers forward to.
type Upstream struct {
	APIKey        string
	DirectionsURL string
	PlacesURL     string
	HTTP          *http.Client
}

type handlers struct {
	up     Upstream
	logger *zap.Logger
}

func newHandlers(up Upstream, logger *zap.Logger) *handlers {
	if up.HTTP == nil {
		up.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	return &handlers{up: up, logger: logger}
}

func (h *handlers) directions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startLat, startLng := q.Get("startLat"), q.Get("startLng")
	endLat, endLng := q.Get("endLat"), q.Get("endLng")
	if startLat == "" || startLng == "" || endLat == "" || endLng == "" {
		writeError(w, http.StatusBadRequest, "Missing coordinates")
		return
	}
	up := url.Values{}
	up.Set("origin", startLat+","+startLng)
	up.Set("destination", endLat+","+endLng)
	up.Set("mode", "driving")
	up.Set("key", h.up.APIKey)

	body, err := h.fetch(r.Context(), h.up.DirectionsURL, up)
	if err != nil {
		h.logger.Warn("directions upstream failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch route")
		return
	}
	writeRaw(w, body)
}

func (h *handlers) places(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lng, kind := q.Get("lat"), q.Get("lng"), q.Get("type")
	if lat == "" || lng == "" || kind == "" {
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return
	}
	if h.up.APIKey == "" {
		writeError(w, http.StatusInternalServerError, "API key not configured")
		return
	}
	radius := q.Get("radius")
	if radius == "" {
		radius = DefaultPlacesRadius
	}
	up := url.Values{}
	up.Set("location", lat+","+lng)
	up.Set("radius", radius)
	up.Set("type", kind)
	up.Set("key", h.up.APIKey)

	body, err := h.fetch(r.Context(), h.up.PlacesURL, up)
	if err != nil {
		h.logger.Warn("places upstream failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch places")
		return
	}
	writeRaw(w, body)
}

// fetch returns the upstream JSON body untouched. Upstream error payloads
// such as REQUEST_DENIED are valid JSON and pass through as-is.
func (h *handlers) fetch(ctx context.Context, base string, q url.Values) (json.RawMessage, error) {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+sep+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := h.up.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxUpstreamBytes))
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("upstream returned non-json body: %s", res.Status)
	}
	return data, nil
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
