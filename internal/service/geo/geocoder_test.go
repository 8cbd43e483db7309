package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGeocoderSearch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		require.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "old market square", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"display_name":"Stary Rynek, Poznań","lat":"52.4082","lon":"16.9335","address":{"city":"Poznań","country":"Poland"}},
			{"display_name":"Old Market Square, Wrocław","lat":"51.1105","lon":"17.0320","address":{"city":"Wrocław","country":"Poland"}}
		]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, srv.Client(), time.Minute)

	places, err := g.Search(context.Background(), "old market square")
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "Stary Rynek, Poznań", places[0].Name)
	assert.InDelta(t, 52.4082, places[0].Latitude, 0.0001)
	assert.Equal(t, "Poznań", places[0].Locality)
	assert.Equal(t, "Poland", places[0].Country)
}

func TestHTTPGeocoderSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// An endpoint that ignores the limit parameter.
		w.Write([]byte(`[
			{"display_name":"a","lat":"1","lon":"1","address":{}},
			{"display_name":"b","lat":"2","lon":"2","address":{}},
			{"display_name":"c","lat":"3","lon":"3","address":{}},
			{"display_name":"d","lat":"4","lon":"4","address":{}},
			{"display_name":"e","lat":"5","lon":"5","address":{}},
			{"display_name":"f","lat":"6","lon":"6","address":{}},
			{"display_name":"g","lat":"7","lon":"7","address":{}}
		]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, srv.Client(), time.Minute)

	places, err := g.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, places, MaxGeocodeResults)
}

func TestHTTPGeocoderCoalescesDuplicates(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"display_name":"x","lat":"1","lon":"1","address":{}}]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, srv.Client(), time.Minute)

	// Same query repeated inside the window shares one upstream request.
	for i := 0; i < 4; i++ {
		places, err := g.Search(context.Background(), "repeat")
		require.NoError(t, err)
		require.Len(t, places, 1)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// A different query is its own request.
	_, err := g.Search(context.Background(), "different")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestHTTPGeocoderWindowExpiry(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"display_name":"x","lat":"1","lon":"1","address":{}}]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, srv.Client(), 50*time.Millisecond)

	now := time.Now()
	g.now = func() time.Time { return now }

	_, err := g.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// Inside the window: served from the coalesced result.
	now = now.Add(20 * time.Millisecond)
	_, err = g.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// Past the window: a fresh upstream request.
	now = now.Add(100 * time.Millisecond)
	_, err = g.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestHTTPGeocoderReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reverse", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"display_name":"Stary Rynek 1, Poznań","lat":"52.4082","lon":"16.9335","address":{"city":"Poznań","country":"Poland"}}`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, srv.Client(), time.Minute)

	place, err := g.Reverse(context.Background(), 52.4082, 16.9335)
	require.NoError(t, err)
	require.NotNil(t, place)
	assert.Equal(t, "Poznań", place.Locality)
}

func TestHTTPGeocoderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, srv.Client(), time.Minute)

	_, err := g.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}
