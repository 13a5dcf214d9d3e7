package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
)

// GatewayConfig points at a Fabric REST gateway.
type GatewayConfig struct {
	URL       string        `yaml:"url" toml:"url"`
	Channel   string        `yaml:"channel" toml:"channel"`
	Chaincode string        `yaml:"chaincode" toml:"chaincode"`
	Token     string        `yaml:"token" toml:"token"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// Gateway submits AnchorHash transactions through an HTTP gateway.
type Gateway struct {
	endpoint string
	token    string
	client   *http.Client
}

type submitRequest struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

type submitResponse struct {
	TxID  string `json:"txId"`
	Error string `json:"error,omitempty"`
}

// NewGateway validates cfg and returns a gateway client.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ledger gateway url required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "tracechannel"
	}
	if cfg.Chaincode == "" {
		cfg.Chaincode = "anchor"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	endpoint, err := url.JoinPath(cfg.URL, "channels", cfg.Channel, "chaincodes", cfg.Chaincode, "transactions")
	if err != nil {
		return nil, fmt.Errorf("building gateway url: %w", err)
	}
	return &Gateway{
		endpoint: endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Anchor submits AnchorHash(recordID, dataHash) and returns the transaction
// id. Transport failures and 5xx responses wrap anchor.ErrLedgerUnavailable.
func (g *Gateway) Anchor(ctx context.Context, recordID, dataHash string) (string, error) {
	body, err := json.Marshal(submitRequest{Function: "AnchorHash", Args: []string{recordID, dataHash}})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", anchor.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", anchor.ErrLedgerUnavailable, err)
	}
	var out submitResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: gateway returned %d: %s", anchor.ErrLedgerUnavailable, resp.StatusCode, message(out, raw))
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("gateway rejected anchor (%d): %s", resp.StatusCode, message(out, raw))
	case out.TxID == "":
		return "", fmt.Errorf("gateway response missing txId")
	}
	return out.TxID, nil
}

func message(out submitResponse, raw []byte) string {
	if out.Error != "" {
		return out.Error
	}
	return strings.TrimSpace(string(raw))
}
