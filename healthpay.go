// Package healthpay is a storefront payment library: it connects a wallet,
// keeps a medication cart, and pays for cart lines and insurance plans with
// native value transfers on a test network.
package healthpay

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/healthpay/cart"
	"github.com/vitwit/healthpay/catalog"
	"github.com/vitwit/healthpay/checkout"
	"github.com/vitwit/healthpay/config"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/receipts"
	"github.com/vitwit/healthpay/session"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet"
)

// App wires the wallet session, cart, catalog and checkout together.
type App struct {
	target         types.ChainDescriptor
	recipient      common.Address
	timeout        time.Duration
	confirmTimeout time.Duration

	provider  wallet.Provider
	prompter  wallet.Prompter
	store     storage.Store
	catalog   *catalog.Catalog
	session   *session.Manager
	cart      *cart.Store
	receipts  *receipts.Store
	sequencer *checkout.Sequencer

	logger  logger.Logger
	metrics metrics.Recorder
	closers []func()
}

// New builds an app around provider, which may be nil when no wallet is
// available. The session starts listening for wallet events immediately.
func New(ctx context.Context, provider wallet.Provider, opts ...Option) *App {
	a := defaults()
	for _, opt := range opts {
		opt(a)
	}
	a.provider = provider
	a.build(ctx)
	return a
}

// NewFromConfig builds an app with a go-ethereum backed wallet holding the
// configured keys, and the configured storage backend.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := defaults()
	a.target = cfg.TargetChain()
	a.recipient = cfg.RecipientAddress()
	a.timeout = cfg.RequestTimeout
	a.confirmTimeout = cfg.ConfirmTimeout
	for _, opt := range opts {
		opt(a)
	}
	if _, ok := a.logger.(logger.NoopLogger); ok {
		a.logger = logger.NewZapLogger(cfg.ServiceName, cfg.LogLevel)
	}

	if a.store == nil && cfg.StorageBackend == config.StorageRedis {
		r, err := storage.NewRedis(ctx, cfg.RedisOptions())
		if err != nil {
			return nil, types.NewError(types.ErrStorage, "connect redis", err)
		}
		a.store = r
		a.closers = append(a.closers, func() { _ = r.Close() })
	}

	keys, err := wallet.ParseKeys(cfg.PrivateKeys)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "parse private keys", err)
	}
	provider, err := wallet.NewEVMProvider(a.target, keys,
		wallet.WithPrompter(a.prompter),
		wallet.WithProviderLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, provider.Close)
	a.provider = provider

	a.build(ctx)
	return a, nil
}

func defaults() *App {
	return &App{
		target:         types.Sepolia(""),
		recipient:      common.HexToAddress(types.DefaultRecipient),
		timeout:        30 * time.Second,
		confirmTimeout: checkout.DefaultConfirmTimeout,
		prompter:       wallet.AutoApprove,
		logger:         logger.NoopLogger{},
		metrics:        metrics.NoopRecorder{},
	}
}

func (a *App) build(ctx context.Context) {
	a.logger = logger.OrNoop(a.logger)
	a.metrics = metrics.OrNoop(a.metrics)
	if a.store == nil {
		a.store = storage.NewMemory()
	}
	if a.catalog == nil {
		a.catalog = catalog.Default()
	}

	a.session = session.NewManager(a.provider, a.target, a.logger, a.metrics)
	a.session.Start()
	a.cart = cart.Load(ctx, a.store, a.logger)
	a.receipts = receipts.NewStore(a.store, a.logger)
	a.sequencer = checkout.NewSequencer(a.session, a.receipts, a.recipient,
		checkout.WithConfirmTimeout(a.confirmTimeout),
		checkout.WithLogger(a.logger),
		checkout.WithMetrics(a.metrics),
	)
}

// Connect connects the wallet, switching it to the target chain first.
func (a *App) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.session.Connect(ctx)
}

func (a *App) Disconnect() {
	a.session.Disconnect()
}

func (a *App) Session() types.Session {
	return a.session.Session()
}

func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

func (a *App) Provider() wallet.Provider {
	return a.provider
}

// AddToCart adds qty packages of a catalog medication. It reports false when
// the quantity is out of range for the line.
func (a *App) AddToCart(ctx context.Context, medicationID int, tier types.PackageTier, qty int) (bool, error) {
	med, ok := a.catalog.Medication(medicationID)
	if !ok {
		return false, types.NewError(types.ErrNotFound, fmt.Sprintf("medication %d not found", medicationID), nil)
	}
	return a.cart.AddLine(ctx, med, tier, qty)
}

func (a *App) UpdateQuantity(ctx context.Context, lineID string, qty int) (bool, error) {
	return a.cart.UpdateQuantity(ctx, lineID, qty)
}

func (a *App) RemoveFromCart(ctx context.Context, lineID string) (bool, error) {
	return a.cart.RemoveLine(ctx, lineID)
}

func (a *App) ClearCart(ctx context.Context) error {
	return a.cart.Clear(ctx)
}

func (a *App) Cart() []types.CartLine {
	return a.cart.Lines()
}

func (a *App) CartTotal() decimal.Decimal {
	return a.cart.Total()
}

// Checkout pays for the cart line by line and, once every line is
// confirmed, removes the paid lines. Lines added while it runs stay in the
// cart. After a failure the cart is left as it was.
func (a *App) Checkout(ctx context.Context) checkout.Outcome {
	lines := a.cart.Lines()
	out := a.sequencer.Checkout(ctx, lines)
	if out.Status == checkout.StatusCompleted {
		if err := a.cart.RemovePaid(ctx, lines); err != nil {
			a.logger.Error("failed to remove paid lines after checkout", logger.WithErr(nil, err))
		}
	}
	return out
}

// PurchasePlan buys catalog plan planID for people persons.
func (a *App) PurchasePlan(ctx context.Context, planID, people int) (types.PolicyReceipt, error) {
	plan, ok := a.catalog.Plan(planID)
	if !ok {
		return types.PolicyReceipt{}, types.NewError(types.ErrNotFound, fmt.Sprintf("plan %d not found", planID), nil)
	}
	return a.sequencer.PurchasePlan(ctx, plan, people)
}

// Policies returns the connected account's policy receipts.
func (a *App) Policies(ctx context.Context) ([]types.PolicyReceipt, error) {
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}
	return a.receipts.Policies(ctx, owner), nil
}

// ActivePolicies returns the connected account's policies that have not
// expired yet.
func (a *App) ActivePolicies(ctx context.Context) ([]types.PolicyReceipt, error) {
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}
	return a.receipts.ActivePolicies(ctx, owner), nil
}

// Medications returns the connected account's medication receipts.
func (a *App) Medications(ctx context.Context) ([]types.MedicationReceipt, error) {
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}
	return a.receipts.Medications(ctx, owner), nil
}

func (a *App) owner() (common.Address, error) {
	s := a.session.Session()
	if !s.Connected || s.Account == nil {
		return common.Address{}, types.NewError(types.ErrNotConnected, "wallet is not connected", nil)
	}
	return *s.Account, nil
}

// Close stops event handling and releases the wallet and storage.
func (a *App) Close() {
	a.session.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Version is reported by the server health check.
const Version = "1.0.0"
