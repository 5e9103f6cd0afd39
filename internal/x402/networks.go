package x402

import (
	"fmt"
	"math"
)

// Supported networks. The active network is a process-wide configuration
// choice: testnet in development, mainnet otherwise.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

// Chain IDs for the supported networks.
const (
	ChainIDBase        = 8453
	ChainIDBaseSepolia = 84532
)

// usdcDecimals is the number of decimals of the USDC token; one dollar is
// 10^6 atomic units.
const usdcDecimals = 6

// usdcAssets maps networks to their USDC token contract addresses.
var usdcAssets = map[string]string{
	NetworkBase:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	NetworkBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

// eip712Domain is the EIP-712 signing domain metadata for USDC, carried in
// the requirement's extra field so the caller can construct a valid
// authorization.
var eip712Domain = map[string]any{
	"name":    "USDC",
	"version": "2",
}

// USDToAtomicAmount converts a USD price to USDC atomic units, carrying the
// asset address and signing domain for the network. The amount is rounded
// up so the escrow never undershoots the estimate. Unknown networks are an
// error: silently defaulting a network would demand payment on the wrong
// chain.
func USDToAtomicAmount(usd float64, network string) (amount string, asset string, extra map[string]any, err error) {
	assetAddr, ok := usdcAssets[network]
	if !ok {
		return "", "", nil, fmt.Errorf("unsupported network: %s", network)
	}
	if usd < 0 {
		return "", "", nil, fmt.Errorf("negative price: %g", usd)
	}

	atomic := int64(math.Ceil(usd * math.Pow10(usdcDecimals)))
	return fmt.Sprintf("%d", atomic), assetAddr, eip712Domain, nil
}

// ChainID returns the chain ID for a supported network.
func ChainID(network string) (int, error) {
	switch network {
	case NetworkBase:
		return ChainIDBase, nil
	case NetworkBaseSepolia:
		return ChainIDBaseSepolia, nil
	default:
		return 0, fmt.Errorf("unsupported network: %s", network)
	}
}
