package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shoutmap/internal/domain/shout"
	geoservice "shoutmap/internal/service/geo"
)

func newShoutServer(t *testing.T) (*httptest.Server, *fakeShoutStore) {
	t.Helper()

	store := &fakeShoutStore{shouts: make(map[string]shout.Shout)}
	geo := geoservice.NewService(geoservice.Config{
		DefaultRadiusMeters: 2000,
		MinRadiusMeters:     100,
		MaxRadiusMeters:     20000,
	})
	h := NewShoutHandler(store, geo, nil, 280)

	router := chi.NewRouter()
	router.Get("/shouts/nearby", h.GetNearbyShouts)
	router.Delete("/shouts/{id}", h.DeleteShout)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, store
}

func TestGetNearbyShoutsDropsExpired(t *testing.T) {
	srv, store := newShoutServer(t)

	store.shouts["fresh"] = shout.Shout{
		ID: "fresh", UserID: "u1", Content: "hello",
		CreatedAt: time.Now().Add(-time.Minute),
	}
	store.shouts["stale"] = shout.Shout{
		ID: "stale", UserID: "u2", Content: "bye",
		CreatedAt: time.Now().Add(-shout.Lifetime - time.Minute),
	}

	resp, err := http.Get(srv.URL + "/shouts/nearby?lat=52.4&lng=16.9")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var shouts []shout.Shout
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shouts))
	require.Len(t, shouts, 1)
	assert.Equal(t, "fresh", shouts[0].ID)
}

func TestGetNearbyShoutsRequiresCoordinates(t *testing.T) {
	srv, _ := newShoutServer(t)

	resp, err := http.Get(srv.URL + "/shouts/nearby")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteShoutOwnerOnly(t *testing.T) {
	srv, store := newShoutServer(t)

	store.shouts["s1"] = shout.Shout{
		ID: "s1", UserID: "owner", Content: "mine",
		CreatedAt: time.Now(),
	}

	del := func(userID string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/shouts/s1", nil)
		require.NoError(t, err)
		req.Header.Set("X-User-ID", userID)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := del("intruder")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, store.shouts, "s1")

	resp = del("owner")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, store.shouts, "s1")
}

func TestDeleteShoutUnknownID(t *testing.T) {
	srv, _ := newShoutServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/shouts/nope", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
