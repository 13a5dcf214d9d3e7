package main

import (
	"strings"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

var (
	hashA = strings.Repeat("a", 64)
	hashB = strings.Repeat("b", 64)
)

type harness struct {
	stub *shimtest.MockStub
	ctx  *contractapi.TransactionContext
	cc   *AnchorContract
}

func newHarness() *harness {
	stub := shimtest.NewMockStub("anchor", nil)
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(stub)
	return &harness{stub: stub, ctx: ctx, cc: &AnchorContract{}}
}

func (h *harness) anchor(t *testing.T, txID, recordID, dataHash string) string {
	t.Helper()
	h.stub.MockTransactionStart(txID)
	defer h.stub.MockTransactionEnd(txID)
	ref, err := h.cc.AnchorHash(h.ctx, recordID, dataHash)
	require.NoError(t, err)
	return ref
}

func TestAnchorHash(t *testing.T) {
	h := newHarness()

	require.Equal(t, "tx1", h.anchor(t, "tx1", "rec-1", hashA))

	a, err := h.cc.GetAnchor(h.ctx, "rec-1")
	require.NoError(t, err)
	require.Equal(t, hashA, a.DataHash)
	require.Equal(t, 1, a.Seq)
	require.Equal(t, "tx1", a.TxID)
}

func TestAnchorHashIsIdempotent(t *testing.T) {
	h := newHarness()
	h.anchor(t, "tx1", "rec-1", hashA)

	require.Equal(t, "tx1", h.anchor(t, "tx2", "rec-1", hashA))

	history, err := h.cc.AnchorHistory(h.ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestAnchorHistoryAndVerify(t *testing.T) {
	h := newHarness()
	h.anchor(t, "tx1", "rec-1", hashA)
	h.anchor(t, "tx2", "rec-1", hashB)
	h.anchor(t, "tx3", "rec-2", hashA)

	history, err := h.cc.AnchorHistory(h.ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, hashA, history[0].DataHash)
	require.Equal(t, hashB, history[1].DataHash)
	require.Equal(t, 2, history[1].Seq)

	ok, err := h.cc.VerifyHash(h.ctx, "rec-1", hashB)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.cc.VerifyHash(h.ctx, "rec-1", hashA)
	require.NoError(t, err)
	require.False(t, ok, "superseded hash")

	ok, err = h.cc.VerifyHash(h.ctx, "rec-9", hashA)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAnchorHashRejectsBadInput(t *testing.T) {
	h := newHarness()
	h.stub.MockTransactionStart("tx1")
	defer h.stub.MockTransactionEnd("tx1")

	_, err := h.cc.AnchorHash(h.ctx, "", hashA)
	require.Error(t, err)
	_, err = h.cc.AnchorHash(h.ctx, "rec-1", "not-a-hash")
	require.Error(t, err)
	_, err = h.cc.AnchorHash(h.ctx, "rec-1", strings.Repeat("A", 64))
	require.Error(t, err)
}

func TestGetAnchorMissing(t *testing.T) {
	h := newHarness()
	_, err := h.cc.GetAnchor(h.ctx, "rec-1")
	require.Error(t, err)
}
