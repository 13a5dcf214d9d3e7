package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/ledger"
)

func TestMemory_AnchorIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()

	tx1, err := l.Anchor(ctx, "rec-1", "h1")
	require.NoError(t, err)
	again, err := l.Anchor(ctx, "rec-1", "h1")
	require.NoError(t, err)
	require.Equal(t, tx1, again)

	tx2, err := l.Anchor(ctx, "rec-1", "h2")
	require.NoError(t, err)
	require.NotEqual(t, tx1, tx2)
	require.Len(t, l.History("rec-1"), 2)

	l.SetFailure(anchor.ErrLedgerUnavailable)
	_, err = l.Anchor(ctx, "rec-1", "h3")
	require.ErrorIs(t, err, anchor.ErrLedgerUnavailable)
}

func TestDisabled(t *testing.T) {
	_, err := ledger.Disabled{}.Anchor(context.Background(), "rec-1", "h1")
	require.ErrorIs(t, err, anchor.ErrLedgerDisabled)
}

func TestGateway_Anchor(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/channels/trace/chaincodes/anchor/transactions", r.URL.Path)
		require.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"txId": "fabric-tx-1"})
	}))
	defer srv.Close()

	gw, err := ledger.NewGateway(ledger.GatewayConfig{URL: srv.URL + "/api", Channel: "trace", Token: "s3cret"})
	require.NoError(t, err)
	tx, err := gw.Anchor(context.Background(), "rec-1", "h1")
	require.NoError(t, err)
	require.Equal(t, "fabric-tx-1", tx)
	require.Equal(t, "AnchorHash", got["function"])
	require.Equal(t, []any{"rec-1", "h1"}, got["args"])
}

func TestGateway_Failures(t *testing.T) {
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "peer down"})
	}))
	defer srv.Close()

	gw, err := ledger.NewGateway(ledger.GatewayConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = gw.Anchor(context.Background(), "rec-1", "h1")
	require.ErrorIs(t, err, anchor.ErrLedgerUnavailable)
	require.ErrorContains(t, err, "peer down")

	status = http.StatusBadRequest
	_, err = gw.Anchor(context.Background(), "rec-1", "h1")
	require.Error(t, err)
	require.False(t, errors.Is(err, anchor.ErrLedgerUnavailable))

	_, err = ledger.NewGateway(ledger.GatewayConfig{})
	require.Error(t, err)
}
