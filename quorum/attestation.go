package quorum

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// attestationArgs is the ABI tuple of the signed-attestation wire format:
// (address[] operators, bytes[] signatures, uint32 referenceEpoch).
var attestationArgs = abi.Arguments{
	{Name: "operators", Type: mustNewType("address[]")},
	{Name: "signatures", Type: mustNewType("bytes[]")},
	{Name: "referenceEpoch", Type: mustNewType("uint32")},
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeAttestation packs the signed-attestation tuple for use as the
// signatureData argument of IsValidSignature.
func EncodeAttestation(operators []common.Address, signatures [][]byte, referenceEpoch uint32) ([]byte, error) {
	return attestationArgs.Pack(operators, signatures, referenceEpoch)
}

// DecodeAttestation unpacks the signed-attestation tuple.
func DecodeAttestation(data []byte) (operators []common.Address, signatures [][]byte, referenceEpoch uint32, err error) {
	values, err := attestationArgs.Unpack(data)
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "could not unpack attestation")
	}
	operators, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, 0, errors.New("unexpected operators type")
	}
	signatures, ok = values[1].([][]byte)
	if !ok {
		return nil, nil, 0, errors.New("unexpected signatures type")
	}
	referenceEpoch, ok = values[2].(uint32)
	if !ok {
		return nil, nil, 0, errors.New("unexpected reference epoch type")
	}
	return operators, signatures, referenceEpoch, nil
}

// IsValidSignature is the ERC-1271-style entry point: signatureData carries
// the ABI-encoded attestation tuple, and the magic value is returned when
// the quorum check passes.
func (v *Verifier) IsValidSignature(ctx context.Context, dataHash common.Hash, signatureData []byte) ([4]byte, error) {
	operators, signatures, referenceEpoch, err := DecodeAttestation(signatureData)
	if err != nil {
		return [4]byte{}, err
	}
	if err := v.CheckSignatures(ctx, dataHash, operators, signatures, uint64(referenceEpoch)); err != nil {
		return [4]byte{}, err
	}
	return MagicValue, nil
}
