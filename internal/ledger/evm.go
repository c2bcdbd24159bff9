package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/model"
)

const defaultConfirmPoll = 3 * time.Second

// EVMOptions parameterise one EVM chain client.
type EVMOptions struct {
	Network        model.Network
	RPCURL         string
	RequestTimeout time.Duration
	ConfirmTimeout time.Duration
}

// EVMClient talks to an EVM chain over JSON-RPC.
type EVMClient struct {
	opts      EVMOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEVMClient builds a lazily-connecting EVM ledger client.
func NewEVMClient(opts EVMOptions, logger zerolog.Logger) *EVMClient {
	return &EVMClient{
		logger: logger.With().Str("component", "evm_client").Str("network", string(opts.Network)).Logger(),
		opts:   opts,
	}
}

// SubmitTransaction broadcasts a signed, RLP-encoded payload. Re-submitting
// an already-known transaction is treated as success so crashed phases can
// safely retry.
func (c *EVMClient) SubmitTransaction(ctx context.Context, presigned model.PresignedTx) (string, error) {
	ctx, cancel := c.withTimeout(ctx, c.requestTimeout())
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return "", err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(presigned.TxData, "0x"))
	if err != nil {
		return "", fmt.Errorf("decode tx payload: %w", err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("unmarshal tx payload: %w", err)
	}

	if err := client.SendTransaction(ctx, tx); err != nil {
		if isAlreadyKnown(err) {
			c.logger.Debug().Str("hash", tx.Hash().Hex()).Msg("transaction already known to the chain")
			return tx.Hash().Hex(), nil
		}
		return "", fmt.Errorf("send transaction: %w", err)
	}

	return tx.Hash().Hex(), nil
}

// ConfirmTransaction polls for a receipt until finality or timeout.
func (c *EVMClient) ConfirmTransaction(ctx context.Context, hash string) error {
	timeout := c.opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := c.withTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}

	txHash := common.HexToHash(hash)
	ticker := time.NewTicker(defaultConfirmPoll)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrTxReverted, hash)
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("query receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrTxNotFound, hash)
		case <-ticker.C:
		}
	}
}

// AccountNonce returns the next nonce the chain expects for an account,
// including pending transactions.
func (c *EVMClient) AccountNonce(ctx context.Context, address string) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx, c.requestTimeout())
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	nonce, err := client.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	return nonce, nil
}

// Balance returns the native balance of an account.
func (c *EVMClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	ctx, cancel := c.withTimeout(ctx, c.requestTimeout())
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("balance at: %w", err)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

func (c *EVMClient) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, fmt.Errorf("rpc url not configured for %s", c.opts.Network)
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", c.opts.Network, err)
	}
	c.client = client
	return client, nil
}

func (c *EVMClient) requestTimeout() time.Duration {
	if c.opts.RequestTimeout > 0 {
		return c.opts.RequestTimeout
	}
	return 10 * time.Second
}

func (c *EVMClient) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func isAlreadyKnown(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already known") || strings.Contains(msg, "nonce too low")
}

var _ Client = (*EVMClient)(nil)
