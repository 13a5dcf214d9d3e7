// Package ledger provides the anchoring backends the worker submits data
// hashes to.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
)

// Anchor is one hash recorded on a ledger.
type Anchor struct {
	RecordID string
	DataHash string
	TxID     string
}

// Memory is an in-process ledger for development and tests. Anchoring the
// same record and hash twice returns the first transaction id.
type Memory struct {
	mu      sync.Mutex
	seq     int
	anchors map[string][]Anchor
	failure error
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{anchors: make(map[string][]Anchor)}
}

func (m *Memory) Anchor(ctx context.Context, recordID, dataHash string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return "", m.failure
	}
	for _, a := range m.anchors[recordID] {
		if a.DataHash == dataHash {
			return a.TxID, nil
		}
	}
	m.seq++
	tx := fmt.Sprintf("mem-tx-%d", m.seq)
	m.anchors[recordID] = append(m.anchors[recordID], Anchor{RecordID: recordID, DataHash: dataHash, TxID: tx})
	return tx, nil
}

// SetFailure makes every Anchor call fail with err until cleared with nil.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// History returns the anchors of a record in submission order.
func (m *Memory) History(recordID string) []Anchor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Anchor(nil), m.anchors[recordID]...)
}

// Disabled rejects every anchor. Jobs stay pending until a real ledger is
// configured or they are abandoned.
type Disabled struct{}

func (Disabled) Anchor(context.Context, string, string) (string, error) {
	return "", anchor.ErrLedgerDisabled
}
