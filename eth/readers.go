// Package eth adapts on-chain EigenLayer-style contracts to the reader
// interfaces the registry consumes: delegated shares, slashable-stake
// allocations, and directory registration status.
package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ContractCaller is the read-only subset of ethclient.Client these adapters
// need.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func call(ctx context.Context, caller ContractCaller, contract common.Address, sel []byte, args abi.Arguments, values ...interface{}) ([]byte, error) {
	input, err := args.Pack(values...)
	if err != nil {
		return nil, errors.Wrap(err, "could not pack call input")
	}
	return caller.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: append(append([]byte{}, sel...), input...),
	}, nil)
}

// DelegationCaller reads delegated stake from the delegation manager
// contract.
type DelegationCaller struct {
	caller   ContractCaller
	contract common.Address
}

var (
	operatorSharesSel  = selector("getOperatorShares(address,address[])")
	operatorSharesArgs = abi.Arguments{
		{Name: "operator", Type: mustNewType("address")},
		{Name: "strategies", Type: mustNewType("address[]")},
	}
	operatorSharesOut = abi.Arguments{
		{Name: "shares", Type: mustNewType("uint256[]")},
	}
)

func NewDelegationCaller(caller ContractCaller, contract common.Address) *DelegationCaller {
	return &DelegationCaller{caller: caller, contract: contract}
}

func (d *DelegationCaller) OperatorShares(ctx context.Context, operator common.Address, strategies []common.Address) ([]*big.Int, error) {
	output, err := call(ctx, d.caller, d.contract, operatorSharesSel, operatorSharesArgs, operator, strategies)
	if err != nil {
		return nil, errors.Wrap(err, "could not call getOperatorShares")
	}
	values, err := operatorSharesOut.Unpack(output)
	if err != nil {
		return nil, errors.Wrap(err, "could not unpack operator shares")
	}
	shares := values[0].([]*big.Int)
	if len(shares) != len(strategies) {
		return nil, errors.Errorf("got %d shares for %d strategies", len(shares), len(strategies))
	}
	return shares, nil
}

// AllocationCaller reads slashable-stake allocations from the allocation
// manager contract. The operator set id is fixed per deployment.
type AllocationCaller struct {
	caller        ContractCaller
	contract      common.Address
	avs           common.Address
	operatorSetID uint32
}

var (
	allocationSel   = selector("getAllocation(address,address)")
	maxMagnitudeSel = selector("getMaxMagnitude(address,address)")

	operatorStrategyArgs = abi.Arguments{
		{Name: "operator", Type: mustNewType("address")},
		{Name: "strategy", Type: mustNewType("address")},
	}
	magnitudeOut = abi.Arguments{
		{Name: "magnitude", Type: mustNewType("uint256")},
	}

	memberSel  = selector("isMemberOfOperatorSet(address,address,uint32)")
	memberArgs = abi.Arguments{
		{Name: "operator", Type: mustNewType("address")},
		{Name: "avs", Type: mustNewType("address")},
		{Name: "operatorSetId", Type: mustNewType("uint32")},
	}
	boolOut = abi.Arguments{
		{Name: "ok", Type: mustNewType("bool")},
	}
)

func NewAllocationCaller(caller ContractCaller, contract, avs common.Address, operatorSetID uint32) *AllocationCaller {
	return &AllocationCaller{caller: caller, contract: contract, avs: avs, operatorSetID: operatorSetID}
}

func (a *AllocationCaller) Allocation(ctx context.Context, operator, strategy common.Address) (*big.Int, error) {
	return a.magnitude(ctx, allocationSel, "getAllocation", operator, strategy)
}

func (a *AllocationCaller) MaxMagnitude(ctx context.Context, operator, strategy common.Address) (*big.Int, error) {
	return a.magnitude(ctx, maxMagnitudeSel, "getMaxMagnitude", operator, strategy)
}

func (a *AllocationCaller) magnitude(ctx context.Context, sel []byte, name string, operator, strategy common.Address) (*big.Int, error) {
	output, err := call(ctx, a.caller, a.contract, sel, operatorStrategyArgs, operator, strategy)
	if err != nil {
		return nil, errors.Wrapf(err, "could not call %s", name)
	}
	values, err := magnitudeOut.Unpack(output)
	if err != nil {
		return nil, errors.Wrapf(err, "could not unpack %s", name)
	}
	return values[0].(*big.Int), nil
}

func (a *AllocationCaller) IsOperatorSetMember(ctx context.Context, operator common.Address) (bool, error) {
	output, err := call(ctx, a.caller, a.contract, memberSel, memberArgs, operator, a.avs, a.operatorSetID)
	if err != nil {
		return false, errors.Wrap(err, "could not call isMemberOfOperatorSet")
	}
	values, err := boolOut.Unpack(output)
	if err != nil {
		return false, errors.Wrap(err, "could not unpack membership")
	}
	return values[0].(bool), nil
}

// DirectoryCaller reads the legacy AVS-directory registration status.
type DirectoryCaller struct {
	caller   ContractCaller
	contract common.Address
	avs      common.Address
}

var (
	statusSel  = selector("avsOperatorStatus(address,address)")
	statusArgs = abi.Arguments{
		{Name: "avs", Type: mustNewType("address")},
		{Name: "operator", Type: mustNewType("address")},
	}
	statusOut = abi.Arguments{
		{Name: "status", Type: mustNewType("uint8")},
	}
)

const statusRegistered = 1

func NewDirectoryCaller(caller ContractCaller, contract, avs common.Address) *DirectoryCaller {
	return &DirectoryCaller{caller: caller, contract: contract, avs: avs}
}

func (d *DirectoryCaller) IsOperatorRegistered(ctx context.Context, operator common.Address) (bool, error) {
	output, err := call(ctx, d.caller, d.contract, statusSel, statusArgs, d.avs, operator)
	if err != nil {
		return false, errors.Wrap(err, "could not call avsOperatorStatus")
	}
	values, err := statusOut.Unpack(output)
	if err != nil {
		return false, errors.Wrap(err, "could not unpack operator status")
	}
	return values[0].(uint8) == statusRegistered, nil
}
