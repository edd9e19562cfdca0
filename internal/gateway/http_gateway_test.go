package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchContractsTranslatesWireShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contracts", r.URL.Path)
		var req fetchContractsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"SPY"}, req.Symbols)

		json.NewEncoder(w).Encode(fetchContractsResponse{
			Contracts: []wireContract{
				{Symbol: "SPY240621C00500000", Underlying: "SPY", Strike: 500, Right: "CALL", Bid: 1.0, Ask: 1.1, Delta: 0.3},
			},
		})
	}))
	defer srv.Close()

	g := New(srv.URL, time.Second)
	contracts, err := g.FetchContracts(context.Background(), []string{"SPY"})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "SPY", contracts[0].Underlying)
	assert.Equal(t, 500.0, contracts[0].Strike)
	assert.False(t, contracts[0].FetchedAt.IsZero())
}

func TestHealthTranslatesRTT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		json.NewEncoder(w).Encode(healthResponse{QueueDepth: 42, RTTMillis: 12.5, RecentErrors: 1})
	}))
	defer srv.Close()

	g := New(srv.URL, time.Second)
	h, err := g.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, h.QueueDepth)
	assert.Equal(t, 12500*time.Microsecond, h.RTT)
	assert.Equal(t, 1, h.RecentErrors)
}

func TestFetchContractsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := New(srv.URL, time.Second)
	_, err := g.FetchContracts(context.Background(), []string{"SPY"})
	assert.Error(t, err)
}
