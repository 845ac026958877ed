package eth

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = common.HexToAddress("0x3000000000000000000000000000000000000001")
	avsAddr      = common.HexToAddress("0x3000000000000000000000000000000000000002")
	operatorAddr = common.HexToAddress("0x3000000000000000000000000000000000000003")
	strategyAddr = common.HexToAddress("0x3000000000000000000000000000000000000004")
)

// fakeCaller answers by selector and records the last call for inspection.
type fakeCaller struct {
	outputs map[string][]byte
	lastMsg ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastMsg = call
	return f.outputs[string(call.Data[:4])], nil
}

func TestDelegationCaller_OperatorShares(t *testing.T) {
	packed, err := operatorSharesOut.Pack([]*big.Int{big.NewInt(1000), big.NewInt(500)})
	require.NoError(t, err)
	caller := &fakeCaller{outputs: map[string][]byte{string(operatorSharesSel): packed}}

	delegation := NewDelegationCaller(caller, contractAddr)
	shares, err := delegation.OperatorShares(context.Background(), operatorAddr, []common.Address{strategyAddr, avsAddr})
	require.NoError(t, err)
	require.Len(t, shares, 2)
	require.Equal(t, int64(1000), shares[0].Int64())

	require.Equal(t, &contractAddr, caller.lastMsg.To)
	require.True(t, bytes.HasPrefix(caller.lastMsg.Data, operatorSharesSel))

	// Strategy/share count mismatch is an error, not a silent truncation.
	_, err = delegation.OperatorShares(context.Background(), operatorAddr, []common.Address{strategyAddr})
	require.Error(t, err)
}

func TestAllocationCaller(t *testing.T) {
	allocation, err := magnitudeOut.Pack(big.NewInt(40))
	require.NoError(t, err)
	maxMagnitude, err := magnitudeOut.Pack(big.NewInt(100))
	require.NoError(t, err)
	member, err := boolOut.Pack(true)
	require.NoError(t, err)
	caller := &fakeCaller{outputs: map[string][]byte{
		string(allocationSel):   allocation,
		string(maxMagnitudeSel): maxMagnitude,
		string(memberSel):       member,
	}}

	reader := NewAllocationCaller(caller, contractAddr, avsAddr, 3)

	got, err := reader.Allocation(context.Background(), operatorAddr, strategyAddr)
	require.NoError(t, err)
	require.Equal(t, int64(40), got.Int64())

	got, err = reader.MaxMagnitude(context.Background(), operatorAddr, strategyAddr)
	require.NoError(t, err)
	require.Equal(t, int64(100), got.Int64())

	ok, err := reader.IsOperatorSetMember(context.Background(), operatorAddr)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDirectoryCaller(t *testing.T) {
	registered, err := statusOut.Pack(uint8(1))
	require.NoError(t, err)
	caller := &fakeCaller{outputs: map[string][]byte{string(statusSel): registered}}

	directory := NewDirectoryCaller(caller, contractAddr, avsAddr)
	ok, err := directory.IsOperatorRegistered(context.Background(), operatorAddr)
	require.NoError(t, err)
	require.True(t, ok)

	caller.outputs[string(statusSel)], err = statusOut.Pack(uint8(0))
	require.NoError(t, err)
	ok, err = directory.IsOperatorRegistered(context.Background(), operatorAddr)
	require.NoError(t, err)
	require.False(t, ok)
}
