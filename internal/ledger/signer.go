package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vortex-ramp/internal/model"
)

// Signer produces a broadcast-ready raw transaction for a server-held
// account. Key custody lives in a separate service; this process never
// sees private keys.
type Signer interface {
	SignTransaction(ctx context.Context, tx model.UnsignedTx) (model.PresignedTx, error)
}

// RemoteSigner calls the signing sidecar over HTTP.
type RemoteSigner struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteSigner(baseURL string, timeout time.Duration) *RemoteSigner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteSigner{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	Network string            `json:"network"`
	Signer  string            `json:"signer"`
	Nonce   uint64            `json:"nonce"`
	TxData  string            `json:"txData,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

type signResponse struct {
	SignedTx string `json:"signedTx"`
}

func (s *RemoteSigner) SignTransaction(ctx context.Context, tx model.UnsignedTx) (model.PresignedTx, error) {
	payload, err := json.Marshal(signRequest{
		Network: string(tx.Network),
		Signer:  tx.Signer,
		Nonce:   tx.Nonce,
		TxData:  tx.TxData,
		Meta:    tx.Meta,
	})
	if err != nil {
		return model.PresignedTx{}, fmt.Errorf("encode sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sign", bytes.NewReader(payload))
	if err != nil {
		return model.PresignedTx{}, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return model.PresignedTx{}, fmt.Errorf("call signer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.PresignedTx{}, fmt.Errorf("signer returned status %d: %s", resp.StatusCode, string(body))
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.PresignedTx{}, fmt.Errorf("decode sign response: %w", err)
	}
	if out.SignedTx == "" {
		return model.PresignedTx{}, fmt.Errorf("signer returned empty transaction")
	}

	signed := tx
	signed.TxData = out.SignedTx
	return signed, nil
}
