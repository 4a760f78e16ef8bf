package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	bind "github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/utils"
)

var _ Provider = (*EVMProvider)(nil)

// Backend is the subset of ethclient.Client the provider needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a backend for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

// DialEthclient dials rpcURL with go-ethereum's ethclient.
func DialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	return client, nil
}

// PromptKind identifies what the user is being asked to approve.
type PromptKind string

const (
	PromptAccounts    PromptKind = "eth_requestAccounts"
	PromptSwitchChain PromptKind = "wallet_switchEthereumChain"
	PromptAddChain    PromptKind = "wallet_addEthereumChain"
	PromptTransaction PromptKind = "eth_sendTransaction"
)

// PromptRequest describes a pending approval.
type PromptRequest struct {
	Kind    PromptKind
	ChainID *big.Int
	Chain   *types.ChainDescriptor
	Tx      *TxRequest
}

// Prompter approves or declines wallet requests. Returning a non-nil error
// declines the request.
type Prompter interface {
	Approve(ctx context.Context, req PromptRequest) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req PromptRequest) error

func (f PrompterFunc) Approve(ctx context.Context, req PromptRequest) error {
	return f(ctx, req)
}

// AutoApprove approves every request.
var AutoApprove Prompter = PrompterFunc(func(context.Context, PromptRequest) error { return nil })

// EVMProvider is a wallet holding local keys that talks to EVM chains over
// JSON-RPC.
type EVMProvider struct {
	mu         sync.Mutex
	dial       Dialer
	prompter   Prompter
	logger     logger.Logger
	chains     map[uint64]types.ChainDescriptor
	backends   map[uint64]Backend
	pending    map[common.Hash]uint64
	current    uint64
	keys       []*ecdsa.PrivateKey
	authorized bool
	events     emitter
	optErr     error
}

type EVMOption func(*EVMProvider)

func WithDialer(d Dialer) EVMOption {
	return func(p *EVMProvider) {
		p.dial = d
	}
}

func WithPrompter(pr Prompter) EVMOption {
	return func(p *EVMProvider) {
		if pr != nil {
			p.prompter = pr
		}
	}
}

func WithProviderLogger(l logger.Logger) EVMOption {
	return func(p *EVMProvider) {
		p.logger = logger.OrNoop(l)
	}
}

// WithKnownChain makes an additional chain switchable without an add-chain
// request. An invalid descriptor makes NewEVMProvider fail.
func WithKnownChain(desc types.ChainDescriptor) EVMOption {
	return func(p *EVMProvider) {
		if err := utils.ValidateChainDescriptor(desc); err != nil {
			p.optErr = errors.Join(p.optErr, err)
			return
		}
		p.chains[desc.ChainID] = desc
	}
}

// NewEVMProvider creates a wallet currently on the initial chain, holding the
// given keys. The first key is the primary account.
func NewEVMProvider(initial types.ChainDescriptor, keys []*ecdsa.PrivateKey, opts ...EVMOption) (*EVMProvider, error) {
	if err := utils.ValidateChainDescriptor(initial); err != nil {
		return nil, err
	}
	p := &EVMProvider{
		dial:     DialEthclient,
		prompter: AutoApprove,
		logger:   logger.NoopLogger{},
		chains:   map[uint64]types.ChainDescriptor{initial.ChainID: initial},
		backends: make(map[uint64]Backend),
		pending:  make(map[common.Hash]uint64),
		current:  initial.ChainID,
		keys:     append([]*ecdsa.PrivateKey(nil), keys...),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.optErr != nil {
		return nil, p.optErr
	}
	return p, nil
}

// ParseKeys decodes hex private keys.
func ParseKeys(hexKeys []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, h := range hexKeys {
		k, err := crypto.HexToECDSA(trimHexPrefix(h))
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:]
	}
	return s
}

func (p *EVMProvider) ChainID(_ context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).SetUint64(p.current), nil
}

func (p *EVMProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	p.mu.Lock()
	authorized := p.authorized
	n := len(p.keys)
	p.mu.Unlock()

	if n == 0 {
		return nil, newProviderError(CodeUnauthorized, "wallet has no accounts", nil)
	}
	if !authorized {
		if err := p.prompter.Approve(ctx, PromptRequest{Kind: PromptAccounts}); err != nil {
			return nil, newProviderError(CodeUserRejected, "user rejected the request", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = true
	return p.addressesLocked(), nil
}

func (p *EVMProvider) SwitchChain(ctx context.Context, chainID *big.Int) error {
	if chainID == nil || !chainID.IsUint64() {
		return newProviderError(CodeInvalidParams, "invalid chain id", nil)
	}
	id := chainID.Uint64()

	p.mu.Lock()
	current := p.current
	_, known := p.chains[id]
	p.mu.Unlock()

	if current == id {
		return nil
	}
	if !known {
		return newProviderError(CodeUnrecognizedChain, fmt.Sprintf("unrecognized chain id 0x%x", id), nil)
	}
	if err := p.prompter.Approve(ctx, PromptRequest{Kind: PromptSwitchChain, ChainID: new(big.Int).Set(chainID)}); err != nil {
		return newProviderError(CodeUserRejected, "user rejected the request", err)
	}
	return p.activate(ctx, id)
}

func (p *EVMProvider) AddChain(ctx context.Context, desc types.ChainDescriptor) error {
	if err := utils.ValidateChainDescriptor(desc); err != nil {
		return newProviderError(CodeInvalidParams, "invalid chain parameters", err)
	}
	if err := p.prompter.Approve(ctx, PromptRequest{Kind: PromptAddChain, ChainID: desc.ChainIDBig(), Chain: &desc}); err != nil {
		return newProviderError(CodeUserRejected, "user rejected the request", err)
	}

	p.mu.Lock()
	p.chains[desc.ChainID] = desc
	// a re-added chain may point at a different endpoint
	if b, ok := p.backends[desc.ChainID]; ok {
		b.Close()
		delete(p.backends, desc.ChainID)
	}
	current := p.current
	p.mu.Unlock()

	p.logger.Info("chain added", map[string]any{"chain_id": desc.ChainID, "name": desc.Name})
	if current == desc.ChainID {
		return nil
	}
	return p.activate(ctx, desc.ChainID)
}

// activate dials the chain, makes it current and emits chainChanged.
func (p *EVMProvider) activate(ctx context.Context, id uint64) error {
	if _, err := p.backend(ctx, id); err != nil {
		return err
	}
	p.mu.Lock()
	changed := p.current != id
	p.current = id
	p.mu.Unlock()

	if changed {
		p.logger.Info("chain switched", map[string]any{"chain_id": id})
		p.events.emitChain(new(big.Int).SetUint64(id))
	}
	return nil
}

// backend returns the cached backend for a chain, dialling on first use and
// checking the endpoint actually serves that chain.
func (p *EVMProvider) backend(ctx context.Context, id uint64) (Backend, error) {
	p.mu.Lock()
	if b, ok := p.backends[id]; ok {
		p.mu.Unlock()
		return b, nil
	}
	desc, ok := p.chains[id]
	p.mu.Unlock()
	if !ok {
		return nil, newProviderError(CodeUnrecognizedChain, fmt.Sprintf("unrecognized chain id 0x%x", id), nil)
	}
	if len(desc.RPCURLs) == 0 {
		return nil, newProviderError(CodeChainDisconnected, fmt.Sprintf("no rpc url for chain %d", id), nil)
	}

	b, err := p.dial(ctx, desc.RPCURLs[0])
	if err != nil {
		return nil, newProviderError(CodeChainDisconnected, "rpc unavailable", err)
	}
	remote, err := b.ChainID(ctx)
	if err != nil {
		b.Close()
		return nil, newProviderError(CodeChainDisconnected, "rpc unavailable", err)
	}
	if remote.Uint64() != id {
		b.Close()
		return nil, newProviderError(CodeChainDisconnected, fmt.Sprintf("rpc serves chain %s, want %d", remote, id), nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.backends[id]; ok {
		b.Close()
		return existing, nil
	}
	p.backends[id] = b
	return b, nil
}

func (p *EVMProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	p.mu.Lock()
	key := p.keyForLocked(req.From)
	authorized := p.authorized
	chainID := p.current
	p.mu.Unlock()

	if !authorized || key == nil {
		return common.Hash{}, newProviderError(CodeUnauthorized, fmt.Sprintf("account %s is not authorized", req.From.Hex()), nil)
	}
	if err := p.prompter.Approve(ctx, PromptRequest{Kind: PromptTransaction, ChainID: new(big.Int).SetUint64(chainID), Tx: &req}); err != nil {
		return common.Hash{}, newProviderError(CodeUserRejected, "user denied transaction signature", err)
	}

	b, err := p.backend(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := b.PendingNonceAt(ctx, req.From)
	if err != nil {
		return common.Hash{}, newProviderError(CodeInternal, "pending nonce failed", err)
	}
	gasPrice, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, newProviderError(CodeInternal, "suggest gas price failed", err)
	}
	to := req.To
	gasLimit, err := b.EstimateGas(ctx, ethereum.CallMsg{From: req.From, To: &to, Value: value, Data: req.Data})
	if err != nil {
		return common.Hash{}, newProviderError(CodeInternal, "estimate gas failed", err)
	}

	tx := gethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, req.Data)
	signed, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(new(big.Int).SetUint64(chainID)), key)
	if err != nil {
		return common.Hash{}, newProviderError(CodeInternal, "sign tx failed", err)
	}
	if err := b.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, newProviderError(CodeInternal, "send tx failed", err)
	}

	p.mu.Lock()
	p.pending[signed.Hash()] = chainID
	p.mu.Unlock()

	p.logger.Debug("transaction submitted", map[string]any{
		"tx_hash":  signed.Hash().Hex(),
		"chain_id": chainID,
		"nonce":    nonce,
	})
	return signed.Hash(), nil
}

// ErrTransactionReverted is returned when a mined transaction failed.
var ErrTransactionReverted = errors.New("transaction reverted")

func (p *EVMProvider) WaitForConfirmation(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	p.mu.Lock()
	chainID, ok := p.pending[hash]
	if !ok {
		chainID = p.current
	}
	p.mu.Unlock()

	b, err := p.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, b, hash)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	delete(p.pending, hash)
	p.mu.Unlock()

	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
	}
	return receipt, nil
}

func (p *EVMProvider) Subscribe(l Listener) func() {
	return p.events.subscribe(l)
}

// Accounts returns the authorized accounts, primary first.
func (p *EVMProvider) Accounts() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authorized {
		return nil
	}
	return p.addressesLocked()
}

// SelectAccount makes addr the primary account and emits accountsChanged.
func (p *EVMProvider) SelectAccount(addr common.Address) error {
	p.mu.Lock()
	idx := -1
	for i, k := range p.keys {
		if crypto.PubkeyToAddress(k.PublicKey) == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return newProviderError(CodeUnauthorized, fmt.Sprintf("unknown account %s", addr.Hex()), nil)
	}
	key := p.keys[idx]
	p.keys = append(p.keys[:idx], p.keys[idx+1:]...)
	p.keys = append([]*ecdsa.PrivateKey{key}, p.keys...)
	authorized := p.authorized
	accounts := p.addressesLocked()
	p.mu.Unlock()

	if authorized {
		p.events.emitAccounts(accounts)
	}
	return nil
}

// Lock revokes account access, as a wallet does when locked or when the
// site is disconnected, and emits an empty accountsChanged.
func (p *EVMProvider) Lock() {
	p.mu.Lock()
	was := p.authorized
	p.authorized = false
	p.mu.Unlock()

	if was {
		p.events.emitAccounts(nil)
	}
}

// Close closes every dialled backend.
func (p *EVMProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, b := range p.backends {
		b.Close()
		delete(p.backends, id)
	}
}

func (p *EVMProvider) addressesLocked() []common.Address {
	out := make([]common.Address, len(p.keys))
	for i, k := range p.keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

func (p *EVMProvider) keyForLocked(addr common.Address) *ecdsa.PrivateKey {
	for _, k := range p.keys {
		if crypto.PubkeyToAddress(k.PublicKey) == addr {
			return k
		}
	}
	return nil
}
