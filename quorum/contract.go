package quorum

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ContractCaller is the subset of an execution client used for ERC-1271
// calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var isValidSignatureArgs = abi.Arguments{
	{Name: "hash", Type: mustNewType("bytes32")},
	{Name: "signature", Type: mustNewType("bytes")},
}

// CallerVerifier checks ERC-1271 signatures by calling
// isValidSignature(bytes32,bytes) on the signing-key contract.
type CallerVerifier struct {
	caller ContractCaller
}

func NewCallerVerifier(caller ContractCaller) *CallerVerifier {
	return &CallerVerifier{caller: caller}
}

func (c *CallerVerifier) IsValidSignature(ctx context.Context, signer common.Address, hash common.Hash, signature []byte) (bool, error) {
	input, err := isValidSignatureArgs.Pack(hash, signature)
	if err != nil {
		return false, errors.Wrap(err, "could not pack isValidSignature input")
	}
	calldata := append(MagicValue[:], input...)

	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &signer,
		Data: calldata,
	}, nil)
	if err != nil {
		return false, errors.Wrap(err, "isValidSignature call failed")
	}
	if len(output) < 4 {
		return false, nil
	}
	return bytes.Equal(output[:4], MagicValue[:]), nil
}
