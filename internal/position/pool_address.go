package position

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PoolInitCodeHash is the keccak256 of the Uniswap V3 pool creation code.
var PoolInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")

// SortTokens orders a token pair the way pools do.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) < 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// PoolAddress derives the CREATE2 address of the pool for a pair and fee.
func PoolAddress(factory, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, fmt.Errorf("%s: %w", tokenA.Hex(), ErrIdenticalTokens)
	}
	token0, token1 := SortTokens(tokenA, tokenB)

	// abi.encode(address, address, uint24)
	encoded := make([]byte, 0, 96)
	encoded = append(encoded, common.LeftPadBytes(token0.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(token1.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes([]byte{byte(fee >> 16), byte(fee >> 8), byte(fee)}, 32)...)

	var salt [32]byte
	copy(salt[:], crypto.Keccak256(encoded))
	return crypto.CreateAddress2(factory, salt, PoolInitCodeHash.Bytes()), nil
}
