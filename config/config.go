// Package config loads healthpay settings from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/vitwit/healthpay/storage"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/utils"
)

// EnvPrefix prefixes every variable, e.g. HEALTHPAY_RPC_URL.
const EnvPrefix = "HEALTHPAY"

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"healthpay" validate:"required"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080" validate:"required"`

	ChainID     uint64 `envconfig:"CHAIN_ID" default:"11155111" validate:"required"`
	ChainName   string `envconfig:"CHAIN_NAME" default:"Sepolia Testnet" validate:"required"`
	RPCURL      string `envconfig:"RPC_URL" default:"https://sepolia.infura.io/v3/" validate:"required,url"`
	ExplorerURL string `envconfig:"EXPLORER_URL" default:"https://sepolia.etherscan.io" validate:"omitempty,url"`
	Recipient   string `envconfig:"RECIPIENT" default:"0x078D8Db473Ab8Fe3036390A3B37C81AdA6c1E5A9" validate:"required,eth_addr"`

	// ChainFile names a JSON chain descriptor that replaces the chain fields above.
	ChainFile string `envconfig:"CHAIN_FILE"`

	// PrivateKeys are the wallet's accounts, comma separated, primary first.
	PrivateKeys []string `envconfig:"PRIVATE_KEYS" validate:"dive,hexadecimal"`

	StorageBackend string        `envconfig:"STORAGE" default:"memory" validate:"oneof=memory redis"`
	RedisURL       string        `envconfig:"REDIS_URL" validate:"omitempty,url"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	RedisScope     string        `envconfig:"REDIS_SCOPE"`
	RedisCartTTL   time.Duration `envconfig:"REDIS_CART_TTL" default:"0s"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
	ConfirmTimeout time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"5m" validate:"gt=0"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`

	chain *types.ChainDescriptor
}

// Load reads the given .env files (or ./.env when none are named, if it
// exists) and then the process environment. Variables already set in the
// environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotenv(envFiles); err != nil {
		return nil, types.NewError(types.ErrConfig, "loading env file", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, types.NewError(types.ErrConfig, "parsing config", err)
	}
	if cfg.ChainFile != "" {
		data, err := os.ReadFile(cfg.ChainFile)
		if err != nil {
			return nil, types.NewError(types.ErrConfig, "reading chain file", err)
		}
		desc, err := utils.ParseChainDescriptor(data)
		if err != nil {
			return nil, err
		}
		cfg.chain = desc
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotenv(files []string) error {
	if len(files) > 0 {
		return godotenv.Load(files...)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Validate checks field constraints and combinations envconfig cannot.
func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return types.NewError(types.ErrConfig, "invalid config", err)
	}
	if c.StorageBackend == StorageRedis && c.RedisURL == "" && c.RedisAddr == "" {
		return types.NewError(types.ErrConfig, "redis storage needs HEALTHPAY_REDIS_URL or HEALTHPAY_REDIS_ADDR", nil)
	}
	if err := utils.ValidateChainDescriptor(c.TargetChain()); err != nil {
		return err
	}
	return nil
}

// TargetChain is the descriptor of the chain payments are made on.
func (c *Config) TargetChain() types.ChainDescriptor {
	if c.chain != nil {
		desc := *c.chain
		desc.RPCURLs = append([]string(nil), c.chain.RPCURLs...)
		desc.BlockExplorerURLs = append([]string(nil), c.chain.BlockExplorerURLs...)
		return desc
	}
	desc := types.Sepolia(c.RPCURL)
	if c.ChainID != types.SepoliaChainID {
		desc.ChainID = c.ChainID
		desc.NativeCurrency = types.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}
		desc.BlockExplorerURLs = nil
	}
	desc.Name = c.ChainName
	if c.ExplorerURL != "" {
		desc.BlockExplorerURLs = []string{c.ExplorerURL}
	}
	return desc
}

func (c *Config) RecipientAddress() common.Address {
	return common.HexToAddress(c.Recipient)
}

func (c *Config) RedisOptions() storage.RedisOptions {
	return storage.RedisOptions{
		URL:      c.RedisURL,
		Address:  c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Scope:    c.RedisScope,
		CartTTL:  c.RedisCartTTL,
	}
}
