package types

import "strings"

// Network represents the chains a checkout can settle on
type Network string

const (
	// EVM Networks
	NetworkEthereum    Network = "ethereum"
	NetworkBase        Network = "base"
	NetworkPolygon     Network = "polygon"
	NetworkArbitrum    Network = "arbitrum"
	NetworkOptimism    Network = "optimism"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkSepolia     Network = "sepolia"      // testnet

	// Direct transfer network for MNEE on BSV
	NetworkBSV Network = "bsv"
)

// ChainFamily classifies a network into a wallet family.
type ChainFamily string

const (
	ChainEVM ChainFamily = "evm"
	ChainBSV ChainFamily = "bsv"
)

// SettlementAsset is the token a payment is denominated in.
type SettlementAsset string

const (
	AssetUSDC SettlementAsset = "USDC"
	AssetUSDT SettlementAsset = "USDT"
	AssetMNEE SettlementAsset = "MNEE"
)

var chainIDs = map[Network]int64{
	NetworkEthereum:    1,
	NetworkOptimism:    10,
	NetworkPolygon:     137,
	NetworkBase:        8453,
	NetworkArbitrum:    42161,
	NetworkBaseSepolia: 84532,
	NetworkSepolia:     11155111,
}

// ChainID returns the EIP-155 chain id of an EVM network, or zero.
func (n Network) ChainID() int64 {
	return chainIDs[n]
}

// NetworkForChainID maps an EIP-155 chain id back to a network name.
func NetworkForChainID(id int64) (Network, bool) {
	for n, cid := range chainIDs {
		if cid == id {
			return n, true
		}
	}
	return "", false
}

// ParseNetwork normalizes a user supplied network name.
func ParseNetwork(s string) (Network, bool) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	if n.IsEVM() || n.IsBSV() {
		return n, true
	}
	return "", false
}

func (n Network) IsEVM() bool {
	_, ok := chainIDs[n]
	return ok
}

func (n Network) IsBSV() bool {
	return n == NetworkBSV
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia || n == NetworkSepolia
}

func (n Network) Family() ChainFamily {
	if n.IsBSV() {
		return ChainBSV
	}
	return ChainEVM
}

func (n Network) String() string {
	return string(n)
}

// TokenInfo contains information about a settlement token on one network
type TokenInfo struct {
	Symbol   SettlementAsset `json:"symbol" validate:"required"`
	Network  Network         `json:"network" validate:"required"`
	Address  string          `json:"address,omitempty"` // contract address, empty on BSV
	Decimals int             `json:"decimals" validate:"gte=0,lte=36"`
}

var tokenRegistry = map[Network]map[SettlementAsset]TokenInfo{
	NetworkEthereum: {
		AssetUSDC: {Symbol: AssetUSDC, Network: NetworkEthereum, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		AssetUSDT: {Symbol: AssetUSDT, Network: NetworkEthereum, Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		AssetMNEE: {Symbol: AssetMNEE, Network: NetworkEthereum, Address: "0x8ccedbAe4916b79da7F3F612EfB2EB93A2bFD6cF", Decimals: 18},
	},
	NetworkBase: {
		AssetUSDC: {Symbol: AssetUSDC, Network: NetworkBase, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
	},
	NetworkPolygon: {
		AssetUSDC: {Symbol: AssetUSDC, Network: NetworkPolygon, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
		AssetUSDT: {Symbol: AssetUSDT, Network: NetworkPolygon, Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
	},
	NetworkArbitrum: {
		AssetUSDC: {Symbol: AssetUSDC, Network: NetworkArbitrum, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		AssetUSDT: {Symbol: AssetUSDT, Network: NetworkArbitrum, Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
	},
	NetworkOptimism: {
		AssetUSDC: {Symbol: AssetUSDC, Network: NetworkOptimism, Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
	},
	NetworkBaseSepolia: {
		AssetUSDC: {Symbol: AssetUSDC, Network: NetworkBaseSepolia, Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6},
	},
	NetworkBSV: {
		AssetMNEE: {Symbol: AssetMNEE, Network: NetworkBSV, Decimals: 5},
	},
}

// LookupToken returns the registered token for a network and asset.
func LookupToken(network Network, asset SettlementAsset) (TokenInfo, bool) {
	tokens, ok := tokenRegistry[network]
	if !ok {
		return TokenInfo{}, false
	}
	t, ok := tokens[asset]
	return t, ok
}

// SupportedTokens lists every token registered for a network.
func SupportedTokens(network Network) []TokenInfo {
	var out []TokenInfo
	for _, asset := range []SettlementAsset{AssetUSDC, AssetUSDT, AssetMNEE} {
		if t, ok := LookupToken(network, asset); ok {
			out = append(out, t)
		}
	}
	return out
}
