package models

import "strings"

// NetworkIndex is the canonical chain identifier used as the dispatch key everywhere
type NetworkIndex string

const (
	NetworkNear     NetworkIndex = "NEAR"
	NetworkEthereum NetworkIndex = "ETHEREUM"
	NetworkBSC      NetworkIndex = "BSC"
	NetworkArbitrum NetworkIndex = "ARBITRUM"
	NetworkTron     NetworkIndex = "TRON"
	NetworkBitcoin  NetworkIndex = "BITCOIN"
	NetworkSolana   NetworkIndex = "SOLANA"
)

// ChainKind is the adapter family implementing a network
type ChainKind string

const (
	ChainKindNear    ChainKind = "NEAR"
	ChainKindEVM     ChainKind = "EVM"
	ChainKindBitcoin ChainKind = "BITCOIN"
	ChainKindSolana  ChainKind = "SOLANA"
	ChainKindTron    ChainKind = "TRON"
)

type networkInfo struct {
	kind     ChainKind
	symbol   string
	decimals int32
	// exchange labels the network is listed under, first one is canonical
	aliases []string
}

var networkTable = map[NetworkIndex]networkInfo{
	NetworkNear:     {ChainKindNear, "NEAR", 24, []string{"NEAR"}},
	NetworkEthereum: {ChainKindEVM, "ETH", 18, []string{"ETH", "ERC20"}},
	NetworkBSC:      {ChainKindEVM, "BNB", 18, []string{"BSC", "BEP20"}},
	NetworkArbitrum: {ChainKindEVM, "ETH", 18, []string{"ARBITRUM", "ARB"}},
	NetworkTron:     {ChainKindTron, "TRX", 6, []string{"TRX", "TRC20"}},
	NetworkBitcoin:  {ChainKindBitcoin, "BTC", 8, []string{"BTC"}},
	NetworkSolana:   {ChainKindSolana, "SOL", 9, []string{"SOL"}},
}

var networkOrder = []NetworkIndex{
	NetworkNear,
	NetworkEthereum,
	NetworkBSC,
	NetworkArbitrum,
	NetworkTron,
	NetworkBitcoin,
	NetworkSolana,
}

// AllNetworks returns every network in stable order
func AllNetworks() []NetworkIndex {
	out := make([]NetworkIndex, len(networkOrder))
	copy(out, networkOrder)
	return out
}

// ParseNetwork parses a case-insensitive network name
func ParseNetwork(s string) (NetworkIndex, bool) {
	n := NetworkIndex(strings.ToUpper(strings.TrimSpace(s)))
	return n, n.Valid()
}

// Valid reports whether n is a known network
func (n NetworkIndex) Valid() bool {
	_, ok := networkTable[n]
	return ok
}

// Kind returns the adapter family for the network
func (n NetworkIndex) Kind() ChainKind {
	return networkTable[n].kind
}

// NativeSymbol returns the native asset ticker
func (n NetworkIndex) NativeSymbol() string {
	return networkTable[n].symbol
}

// NativeDecimals returns the base-unit exponent of the native asset
func (n NetworkIndex) NativeDecimals() int32 {
	return networkTable[n].decimals
}

// ExchangeNetwork returns the label the exchange uses for this network
func (n NetworkIndex) ExchangeNetwork() string {
	info, ok := networkTable[n]
	if !ok || len(info.aliases) == 0 {
		return string(n)
	}
	return info.aliases[0]
}

// MatchesExchangeNetwork reports whether an exchange network label refers to n
func (n NetworkIndex) MatchesExchangeNetwork(label string) bool {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == string(n) {
		return true
	}
	for _, alias := range networkTable[n].aliases {
		if alias == label {
			return true
		}
	}
	return false
}
