package healthpay

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/healthpay/catalog"
	"github.com/vitwit/healthpay/logger"
	"github.com/vitwit/healthpay/metrics"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/wallet"
)

type Option func(*App)

func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(a *App) {
		a.metrics = r
	}
}

// WithTimeout bounds wallet connection requests.
func WithTimeout(t time.Duration) Option {
	return func(a *App) {
		a.timeout = t
	}
}

// WithConfirmTimeout bounds each transfer confirmation wait.
func WithConfirmTimeout(t time.Duration) Option {
	return func(a *App) {
		a.confirmTimeout = t
	}
}

func WithStorage(s storage.Store) Option {
	return func(a *App) {
		a.store = s
	}
}

// WithPrompter sets how the built-in wallet asks for approval. It only applies
// to apps created with NewFromConfig.
func WithPrompter(p wallet.Prompter) Option {
	return func(a *App) {
		a.prompter = p
	}
}

func WithTarget(desc types.ChainDescriptor) Option {
	return func(a *App) {
		a.target = desc
	}
}

func WithRecipient(addr common.Address) Option {
	return func(a *App) {
		a.recipient = addr
	}
}

func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) {
		a.catalog = c
	}
}
