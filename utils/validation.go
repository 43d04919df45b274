package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/types"
)

// MinPhoneDigits is the shortest phone number accepted at checkout.
const MinPhoneDigits = 7

var (
	hexPattern    = regexp.MustCompile("^[0-9a-fA-F]+$")
	base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
)

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative")
	}

	return dec, nil
}

// ToBaseUnits scales a token amount by 10^decimals, rounding any excess
// precision half away from zero.
func ToBaseUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid token decimals %d", decimals)
	}
	return amount.Shift(int32(decimals)).Round(0).BigInt(), nil
}

// FromBaseUnits formats an integer base unit amount as a decimal token amount
func FromBaseUnits(amount *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ValidateTransactionHash checks the hash format of a network's transactions
func ValidateTransactionHash(hash string, network types.Network) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}

	switch {
	case network.IsEVM():
		// 0x + 64 hex
		if !strings.HasPrefix(hash, "0x") {
			return fmt.Errorf("EVM transaction hash must start with 0x")
		}
		if len(hash) != 66 {
			return fmt.Errorf("EVM transaction hash must be 66 characters long")
		}
		if !hexPattern.MatchString(hash[2:]) {
			return fmt.Errorf("EVM transaction hash must be valid hex")
		}

	case network.IsBSV():
		if len(hash) != 64 {
			return fmt.Errorf("BSV transaction id must be 64 characters long")
		}
		if !hexPattern.MatchString(hash) {
			return fmt.Errorf("BSV transaction id must be valid hex")
		}

	default:
		return fmt.Errorf("unsupported network for transaction hash validation: %s", network)
	}

	return nil
}

// ValidateAddressForNetwork validates a destination address for a network
func ValidateAddressForNetwork(address string, network types.Network) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch {
	case network.IsEVM():
		if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("invalid EVM address: %s", address)
		}

	case network.IsBSV():
		// base58check P2PKH / P2SH
		if len(address) < 26 || len(address) > 35 {
			return fmt.Errorf("BSV address has invalid length")
		}
		if !base58Pattern.MatchString(address) {
			return fmt.Errorf("BSV address must be valid base58")
		}

	default:
		return fmt.Errorf("unsupported network for address validation: %s", network)
	}

	return nil
}

// NormalizeAddress returns the EIP-55 checksummed form of an EVM address.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// PhoneDigits counts the digits of a phone number, ignoring formatting.
func PhoneDigits(phone string) int {
	n := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
