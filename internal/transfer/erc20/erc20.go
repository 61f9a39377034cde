// Package erc20 is the on-chain value-transfer backend. The engine holds
// an operator key each holder has approved (a standing ERC-20 allowance);
// every authorized debit becomes a transferFrom spending that allowance.
//
// Token identities map to contracts by convention: the last 20 bytes of
// the 32-byte token identity are the contract address.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/pullpay/internal/identity"
)

var (
	ErrInvalidPrivateKey = errors.New("erc20: invalid private key")
	ErrRPCConnection     = errors.New("erc20: RPC connection failed")
	ErrReverted          = errors.New("erc20: transaction reverted")
	ErrTimeout           = errors.New("erc20: confirmation timed out")
)

// minimal ERC20 ABI: transferFrom plus allowance for preflight checks
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const (
	// DefaultGasLimit for ERC20 transferFrom when estimation fails
	DefaultGasLimit = uint64(120000)

	// ConfirmationTimeout for waiting on transaction receipts
	ConfirmationTimeout = 30 * time.Second

	// confirmationPollInterval between receipt checks
	confirmationPollInterval = 2 * time.Second
)

// EthClient abstracts the go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Config for creating a transferer
type Config struct {
	RPCURL     string
	PrivateKey string // operator key, hex with or without 0x prefix
	ChainID    int64
}

// Option configures the transferer
type Option func(*Transferer)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(t *Transferer) {
		t.client = client
	}
}

// Transferer executes debits as ERC-20 transferFrom transactions signed by
// the engine's operator key. It satisfies the debit service's Transferer.
type Transferer struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	operator   common.Address
	chainID    *big.Int
	abi        abi.ABI
}

// New creates a Transferer
func New(cfg Config, opts ...Option) (*Transferer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("erc20: chain ID required")
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("erc20: parse ABI: %w", err)
	}

	t := &Transferer{
		privateKey: privateKey,
		operator:   crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		abi:        parsedABI,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.client == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		t.client = client
	}

	return t, nil
}

// Operator returns the engine's spender address, the one holders approve.
func (t *Transferer) Operator() string {
	return t.operator.Hex()
}

// contractOf maps a token identity to its ERC-20 contract address.
func contractOf(token identity.Identity) common.Address {
	return common.BytesToAddress(token[identity.Size-common.AddressLength:])
}

// accountOf maps an account identity to an Ethereum address the same way.
func accountOf(id identity.Identity) common.Address {
	return common.BytesToAddress(id[identity.Size-common.AddressLength:])
}

// Transfer executes transferFrom(from, to, amount) on the token's contract
// and waits for the receipt. A reverted or unconfirmed transaction is an
// error; the caller rolls the whole debit back.
func (t *Transferer) Transfer(ctx context.Context, token, from, to identity.Identity, amount uint64, reference string) error {
	contract := contractOf(token)
	data, err := t.abi.Pack("transferFrom", accountOf(from), accountOf(to), new(big.Int).SetUint64(amount))
	if err != nil {
		return fmt.Errorf("erc20: pack transferFrom: %w", err)
	}

	nonce, err := t.client.PendingNonceAt(ctx, t.operator)
	if err != nil {
		return fmt.Errorf("erc20: nonce: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("erc20: gas price: %w", err)
	}
	gasLimit, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.operator,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), t.privateKey)
	if err != nil {
		return fmt.Errorf("erc20: sign: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("erc20: send %s: %w", signedTx.Hash().Hex(), err)
	}

	return t.waitForReceipt(ctx, signedTx.Hash())
}

func (t *Transferer) waitForReceipt(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrReverted, txHash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

// Allowance returns how much of token the holder has approved the engine
// to spend, for preflight diagnostics.
func (t *Transferer) Allowance(ctx context.Context, token, holder identity.Identity) (*big.Int, error) {
	contract := contractOf(token)
	data, err := t.abi.Pack("allowance", accountOf(holder), t.operator)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack allowance: %w", err)
	}
	result, err := t.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("erc20: call allowance: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}
