package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"shoutmap/internal/domain/geo"
)

// MaxGeocodeResults caps forward-geocoding responses; the map UI shows a
// short pick list, never a page of results.
const MaxGeocodeResults = 5

// DefaultCoalesceWindow is how long an answered query stays reusable. Typing
// in a search box produces bursts of identical lookups; within the window
// they share one upstream request.
const DefaultCoalesceWindow = 300 * time.Millisecond

// HTTPGeocoder resolves queries against a Nominatim-compatible endpoint.
type HTTPGeocoder struct {
	baseURL string
	client  *http.Client
	window  time.Duration
	now     func() time.Time

	mu     sync.Mutex
	recent map[string]*geocodeResult
}

type geocodeResult struct {
	done   chan struct{}
	at     time.Time
	places []geo.Place
	err    error
}

// NewHTTPGeocoder creates a geocoder over the given endpoint. A zero window
// falls back to DefaultCoalesceWindow.
func NewHTTPGeocoder(baseURL string, client *http.Client, window time.Duration) *HTTPGeocoder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &HTTPGeocoder{
		baseURL: baseURL,
		client:  client,
		window:  window,
		now:     time.Now,
		recent:  make(map[string]*geocodeResult),
	}
}

// Search forward-geocodes a free-text query, returning at most
// MaxGeocodeResults places. Identical queries inside the coalesce window
// share one upstream request.
func (g *HTTPGeocoder) Search(ctx context.Context, query string) ([]geo.Place, error) {
	return g.coalesced(ctx, "q="+query, func(ctx context.Context) ([]geo.Place, error) {
		u := fmt.Sprintf("%s/search?format=json&limit=%d&q=%s", g.baseURL, MaxGeocodeResults, url.QueryEscape(query))
		var rows []nominatimPlace
		if err := g.get(ctx, u, &rows); err != nil {
			return nil, err
		}

		places := make([]geo.Place, 0, len(rows))
		for _, row := range rows {
			place, err := row.toPlace()
			if err != nil {
				return nil, err
			}
			places = append(places, place)
			if len(places) == MaxGeocodeResults {
				break
			}
		}
		return places, nil
	})
}

// Reverse resolves coordinates to the containing place.
func (g *HTTPGeocoder) Reverse(ctx context.Context, lat, lng float64) (*geo.Place, error) {
	key := fmt.Sprintf("rev=%.5f,%.5f", lat, lng)
	places, err := g.coalesced(ctx, key, func(ctx context.Context) ([]geo.Place, error) {
		u := fmt.Sprintf("%s/reverse?format=json&lat=%f&lon=%f", g.baseURL, lat, lng)
		var row nominatimPlace
		if err := g.get(ctx, u, &row); err != nil {
			return nil, err
		}
		place, err := row.toPlace()
		if err != nil {
			return nil, err
		}
		return []geo.Place{place}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}
	return &places[0], nil
}

// coalesced runs fetch once per key per window; concurrent and near-in-time
// duplicates wait on the first call's result.
func (g *HTTPGeocoder) coalesced(ctx context.Context, key string, fetch func(context.Context) ([]geo.Place, error)) ([]geo.Place, error) {
	g.mu.Lock()
	if res, ok := g.recent[key]; ok {
		select {
		case <-res.done:
			if g.now().Sub(res.at) < g.window && res.err == nil {
				g.mu.Unlock()
				return res.places, nil
			}
			// Stale or failed, fall through and refetch.
		default:
			// In flight, wait for it.
			g.mu.Unlock()
			select {
			case <-res.done:
				return res.places, res.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	res := &geocodeResult{done: make(chan struct{})}
	g.recent[key] = res
	g.mu.Unlock()

	res.places, res.err = fetch(ctx)
	res.at = g.now()
	close(res.done)

	if res.err != nil {
		g.mu.Lock()
		if g.recent[key] == res {
			delete(g.recent, key)
		}
		g.mu.Unlock()
	}

	return res.places, res.err
}

func (g *HTTPGeocoder) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building geocode request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding geocode response: %w", err)
	}
	return nil
}

type nominatimPlace struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Country string `json:"country"`
	} `json:"address"`
}

func (p nominatimPlace) toPlace() (geo.Place, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return geo.Place{}, fmt.Errorf("parsing place latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return geo.Place{}, fmt.Errorf("parsing place longitude: %w", err)
	}

	locality := p.Address.City
	if locality == "" {
		locality = p.Address.Town
	}
	if locality == "" {
		locality = p.Address.Village
	}

	return geo.Place{
		Name:      p.DisplayName,
		Latitude:  lat,
		Longitude: lng,
		Locality:  locality,
		Country:   p.Address.Country,
	}, nil
}
