package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ParseAddress validates a hex address; name labels the error.
func ParseAddress(name, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s is required", name)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, input)
	}
	return common.HexToAddress(input), nil
}

// ParseFeeds converts token=feed pairs into addresses.
func ParseFeeds(feeds map[string]string) (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address, len(feeds))
	for token, feed := range feeds {
		tokenAddress, err := ParseAddress("feed token", token)
		if err != nil {
			return nil, err
		}
		feedAddress, err := ParseAddress("feed", feed)
		if err != nil {
			return nil, err
		}
		out[tokenAddress] = feedAddress
	}
	return out, nil
}

// ParseAmount parses a base-10 unsigned 256-bit integer.
func ParseAmount(name, input string) (*uint256.Int, error) {
	value, err := uint256.FromDecimal(strings.TrimSpace(input))
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, input, err)
	}
	return value, nil
}

// ParsePositionID parses a position token id.
func ParsePositionID(input string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(input), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid position id: %q", input)
	}
	return id, nil
}
