package inco

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futurerent/futurerent-chain/pkg/circuitbreaker"
)

func newTestClient(serverURL string) *Client {
	return NewClient(&Config{
		BaseURL:          serverURL,
		APIKey:           "test-key",
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})
}

func TestComputeSuccess(t *testing.T) {
	var gotAuth string
	var gotReq ComputeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "VALID",
			"proofId": "p1",
			"publicOutput": map[string]any{
				"commitment": "0xabc",
			},
			"proof": "0xproofbytes",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.Compute(context.Background(), "futureRentPayoutLogic_v1",
		map[string]any{"assetId": 1, "period": "2026-01"},
		map[string]any{"incomeAmount": "1000"},
		nil)
	require.NoError(t, err)

	assert.Equal(t, StatusValid, resp.Status)
	assert.Equal(t, "p1", resp.ProofID)
	assert.Equal(t, "0xabc", resp.Commitment())
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "futureRentPayoutLogic_v1", gotReq.Program)
	// requestId is generated when the caller does not supply one
	assert.NotEmpty(t, gotReq.Meta["requestId"])
}

func TestComputeSnakeCaseProofID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "VALID", "proof_id": "p2"})
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Compute(context.Background(), "prog", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "p2", resp.ProofID)
	assert.Equal(t, "", resp.Commitment())
}

func TestComputeServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Compute(context.Background(), "prog", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

func TestComputeClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Compute(context.Background(), "prog", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "401")
}

func TestComputeNetworkErrorIsTransient(t *testing.T) {
	// nothing listens on this address
	client := newTestClient("http://127.0.0.1:1")

	_, err := client.Compute(context.Background(), "prog", nil, nil, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestComputeCircuitOpensAfterThreshold(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:          server.URL,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	})

	for i := 0; i < 5; i++ {
		_, err := client.Compute(context.Background(), "prog", nil, nil, nil)
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.BreakerState())

	// breaker rejects locally without touching the network
	_, err := client.Compute(context.Background(), "prog", nil, nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(5), calls.Load())
}

func TestComputeCircuitRecoversAfterCooldown(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "VALID", "proofId": "p1"})
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:          server.URL,
		Timeout:          5 * time.Second,
		FailureThreshold: 2,
		Cooldown:         20 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		_, err := client.Compute(context.Background(), "prog", nil, nil, nil)
		require.Error(t, err)
	}
	_, err := client.Compute(context.Background(), "prog", nil, nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	fail.Store(false)
	time.Sleep(30 * time.Millisecond)

	resp, err := client.Compute(context.Background(), "prog", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, resp.Status)
	assert.Equal(t, circuitbreaker.StateClosed, client.BreakerState())
}

func TestComputeSuccessResetsFailureCount(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "VALID", "proofId": "p1"})
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:          server.URL,
		Timeout:          5 * time.Second,
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	})

	fail.Store(true)
	_, err := client.Compute(context.Background(), "prog", nil, nil, nil)
	require.Error(t, err)

	fail.Store(false)
	_, err = client.Compute(context.Background(), "prog", nil, nil, nil)
	require.NoError(t, err)

	// the earlier failure no longer counts toward the threshold
	fail.Store(true)
	_, err = client.Compute(context.Background(), "prog", nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, client.BreakerState())
}
