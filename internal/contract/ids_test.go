package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	sets := Partition(4)
	require.Len(t, sets, 4)
	for i, want := range []int64{1, 2, 4, 8} {
		require.Equal(t, want, sets[i].Int64())
	}
}

func TestCollectionIDRejectsMalformedCondition(t *testing.T) {
	_, err := CollectionID("not-hex", big.NewInt(1))
	require.Error(t, err)

	_, err = CollectionID("0x1234", big.NewInt(1))
	require.Error(t, err, "short condition ids are rejected")
}

func TestPositionIDDeterministic(t *testing.T) {
	conditionID := "0xabcd000000000000000000000000000000000000000000000000000000000000"
	collateral := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	a, err := PositionIDForOutcome(collateral, conditionID, 0)
	require.NoError(t, err)
	b, err := PositionIDForOutcome(collateral, conditionID, 0)
	require.NoError(t, err)
	require.Zero(t, a.Cmp(b), "derivation is deterministic")

	c, err := PositionIDForOutcome(collateral, conditionID, 1)
	require.NoError(t, err)
	require.NotZero(t, a.Cmp(c), "outcome slots derive distinct positions")
}
