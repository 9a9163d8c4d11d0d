// Package contract implements the on-chain capability against the
// conditional-tokens framework: splitting collateral into full outcome sets,
// merging them back, and the position/collection ID derivations both
// operations depend on.
package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Partition returns the index-set bitmask for an n-outcome condition:
// [1, 2, 4, ..., 2^(n-1)], one bit per outcome slot.
func Partition(outcomeCount int) []*big.Int {
	sets := make([]*big.Int, 0, outcomeCount)
	for i := 0; i < outcomeCount; i++ {
		sets = append(sets, new(big.Int).Lsh(big.NewInt(1), uint(i)))
	}
	return sets
}

// CollectionID derives the outcome collection identifier for a condition and
// index set: keccak256(conditionId || indexSet).
func CollectionID(conditionID string, indexSet *big.Int) (common.Hash, error) {
	cond, err := conditionHash(conditionID)
	if err != nil {
		return common.Hash{}, err
	}
	packed := make([]byte, 0, 64)
	packed = append(packed, cond.Bytes()...)
	packed = append(packed, common.LeftPadBytes(indexSet.Bytes(), 32)...)
	return common.BytesToHash(ethcrypto.Keccak256(packed)), nil
}

// PositionID derives the ERC-1155 position identifier for a collateral token
// and outcome collection: keccak256(collateral || collectionId).
func PositionID(collateral common.Address, collectionID common.Hash) *big.Int {
	packed := make([]byte, 0, 52)
	packed = append(packed, collateral.Bytes()...)
	packed = append(packed, collectionID.Bytes()...)
	return new(big.Int).SetBytes(ethcrypto.Keccak256(packed))
}

// PositionIDForOutcome derives the position ID for a single outcome slot of
// a condition.
func PositionIDForOutcome(collateral common.Address, conditionID string, outcomeIndex int) (*big.Int, error) {
	indexSet := new(big.Int).Lsh(big.NewInt(1), uint(outcomeIndex))
	coll, err := CollectionID(conditionID, indexSet)
	if err != nil {
		return nil, err
	}
	return PositionID(collateral, coll), nil
}

// conditionHash parses a 0x-prefixed 32-byte condition ID.
func conditionHash(conditionID string) (common.Hash, error) {
	s := strings.TrimPrefix(conditionID, "0x")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("contract: condition id %q is not a 32-byte hex string", conditionID)
	}
	return common.HexToHash(conditionID), nil
}
