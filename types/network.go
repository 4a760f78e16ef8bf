package types

import (
	"fmt"
	"math/big"
)

// Network represents a named chain the application can operate against.
type Network string

const (
	NetworkSepolia Network = "sepolia"
	NetworkMainnet Network = "mainnet"
	NetworkHardhat Network = "hardhat"
)

const (
	// SepoliaChainID is the default target chain.
	SepoliaChainID = 11155111

	// DefaultRecipient receives every storefront payment.
	DefaultRecipient = "0x078D8Db473Ab8Fe3036390A3B37C81AdA6c1E5A9"
)

// NativeCurrency describes the chain's native asset as passed to
// wallet_addEthereumChain.
type NativeCurrency struct {
	Name     string `json:"name" validate:"required"`
	Symbol   string `json:"symbol" validate:"required,min=2,max=6"`
	Decimals uint8  `json:"decimals" validate:"required"`
}

// ChainDescriptor is the full description of a chain a wallet can be asked
// to add.
type ChainDescriptor struct {
	ChainID           uint64         `json:"chainId" validate:"required"`
	Name              string         `json:"chainName" validate:"required"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls" validate:"required,min=1,dive,url"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty" validate:"omitempty,dive,url"`
}

// ChainIDBig returns the chain id as a *big.Int.
func (c ChainDescriptor) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(c.ChainID)
}

// ChainIDHex returns the 0x-prefixed hex form used by injected providers.
func (c ChainDescriptor) ChainIDHex() string {
	return fmt.Sprintf("0x%x", c.ChainID)
}

// Sepolia returns the descriptor for the Sepolia test network with the given
// RPC endpoint. An empty endpoint falls back to the public Infura URL.
func Sepolia(rpcURL string) ChainDescriptor {
	if rpcURL == "" {
		rpcURL = "https://sepolia.infura.io/v3/"
	}
	return ChainDescriptor{
		ChainID: SepoliaChainID,
		Name:    "Sepolia Testnet",
		NativeCurrency: NativeCurrency{
			Name:     "Sepolia ETH",
			Symbol:   "ETH",
			Decimals: 18,
		},
		RPCURLs:           []string{rpcURL},
		BlockExplorerURLs: []string{"https://sepolia.etherscan.io"},
	}
}

func (n Network) IsTestnet() bool {
	return n == NetworkSepolia || n == NetworkHardhat
}

func (n Network) String() string {
	return string(n)
}
