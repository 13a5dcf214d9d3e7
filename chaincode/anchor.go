package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	anchorKeyType = "anchor"
	hashKeyType   = "anchor~hash"
	latestPrefix  = "LATEST_"
)

// Anchor is one data hash recorded for a record.
type Anchor struct {
	RecordID  string `json:"recordId"`
	DataHash  string `json:"dataHash"`
	Seq       int    `json:"seq"`
	TxID      string `json:"txId"`
	Timestamp string `json:"timestamp,omitempty"`
}

// AnchorContract stores record data hashes so off-chain copies can be
// verified.
type AnchorContract struct {
	contractapi.Contract
}

// AnchorHash records dataHash for recordID and returns the transaction id.
// Anchoring a hash that is already recorded returns the original id.
func (c *AnchorContract) AnchorHash(ctx contractapi.TransactionContextInterface, recordID, dataHash string) (string, error) {
	if err := validate(recordID, dataHash); err != nil {
		return "", err
	}
	stub := ctx.GetStub()

	hashKey, err := stub.CreateCompositeKey(hashKeyType, []string{recordID, dataHash})
	if err != nil {
		return "", fmt.Errorf("failed to build hash key: %v", err)
	}
	existing, err := stub.GetState(hashKey)
	if err != nil {
		return "", fmt.Errorf("failed to read hash index: %v", err)
	}
	if existing != nil {
		var a Anchor
		if err := json.Unmarshal(existing, &a); err != nil {
			return "", fmt.Errorf("failed to unmarshal anchor: %v", err)
		}
		return a.TxID, nil
	}

	latest, err := c.latest(ctx, recordID)
	if err != nil {
		return "", err
	}
	seq := 1
	if latest != nil {
		seq = latest.Seq + 1
	}

	a := Anchor{RecordID: recordID, DataHash: dataHash, Seq: seq, TxID: stub.GetTxID()}
	if ts, err := stub.GetTxTimestamp(); err == nil && ts != nil {
		a.Timestamp = time.Unix(ts.Seconds, int64(ts.Nanos)).UTC().Format(time.RFC3339Nano)
	}
	anchorBytes, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal anchor: %v", err)
	}

	anchorKey, err := stub.CreateCompositeKey(anchorKeyType, []string{recordID, fmt.Sprintf("%010d", seq)})
	if err != nil {
		return "", fmt.Errorf("failed to build anchor key: %v", err)
	}
	for _, key := range []string{anchorKey, hashKey, latestPrefix + recordID} {
		if err := stub.PutState(key, anchorBytes); err != nil {
			return "", fmt.Errorf("failed to store anchor: %v", err)
		}
	}
	return a.TxID, nil
}

// GetAnchor returns the most recent anchor of recordID.
func (c *AnchorContract) GetAnchor(ctx contractapi.TransactionContextInterface, recordID string) (*Anchor, error) {
	a, err := c.latest(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("record %s has no anchor", recordID)
	}
	return a, nil
}

// VerifyHash reports whether dataHash is the latest anchor of recordID.
func (c *AnchorContract) VerifyHash(ctx contractapi.TransactionContextInterface, recordID, dataHash string) (bool, error) {
	a, err := c.latest(ctx, recordID)
	if err != nil {
		return false, err
	}
	return a != nil && a.DataHash == strings.ToLower(dataHash), nil
}

// AnchorHistory lists every anchor of recordID, oldest first.
func (c *AnchorContract) AnchorHistory(ctx contractapi.TransactionContextInterface, recordID string) ([]*Anchor, error) {
	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(anchorKeyType, []string{recordID})
	if err != nil {
		return nil, fmt.Errorf("failed to query anchors: %v", err)
	}
	defer iter.Close()

	anchors := []*Anchor{}
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed during results iteration: %v", err)
		}
		var a Anchor
		if err := json.Unmarshal(kv.Value, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anchor: %v", err)
		}
		anchors = append(anchors, &a)
	}
	return anchors, nil
}

func (c *AnchorContract) latest(ctx contractapi.TransactionContextInterface, recordID string) (*Anchor, error) {
	raw, err := ctx.GetStub().GetState(latestPrefix + recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor of %s: %v", recordID, err)
	}
	if raw == nil {
		return nil, nil
	}
	var a Anchor
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal anchor: %v", err)
	}
	return &a, nil
}

func validate(recordID, dataHash string) error {
	if strings.TrimSpace(recordID) == "" {
		return fmt.Errorf("record id is required")
	}
	if len(dataHash) != 64 || strings.ToLower(dataHash) != dataHash {
		return fmt.Errorf("data hash must be 64 lowercase hex characters")
	}
	if _, err := hex.DecodeString(dataHash); err != nil {
		return fmt.Errorf("data hash must be 64 lowercase hex characters")
	}
	return nil
}
