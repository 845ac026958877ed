package quorum

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/statelayer/statelayer/logging"
)

type fakeSource struct {
	weights   map[common.Address]int64
	keys      map[common.Address]common.Address
	threshold int64
	total     int64
}

func (f *fakeSource) WeightAt(operator common.Address, _ uint64) (*big.Int, error) {
	return big.NewInt(f.weights[operator]), nil
}

func (f *fakeSource) SigningKeyAt(operator common.Address, _ uint64) (common.Address, error) {
	return f.keys[operator], nil
}

func (f *fakeSource) ThresholdAt(_ uint64) (*big.Int, error) {
	return big.NewInt(f.threshold), nil
}

func (f *fakeSource) TotalWeightAt(_ uint64) (*big.Int, error) {
	return big.NewInt(f.total), nil
}

type fakeEpochSource uint64

func (f fakeEpochSource) CurrentEpoch() uint64 { return uint64(f) }

type testOperator struct {
	addr common.Address
	key  *ecdsa.PrivateKey
}

func newTestOperator(t *testing.T) testOperator {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	// Address doubles as the operator identity; the signing key address is
	// derived from the same key for simplicity.
	return testOperator{addr: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

func (o testOperator) sign(t *testing.T, hash common.Hash) []byte {
	sig, err := crypto.Sign(hash[:], o.key)
	require.NoError(t, err)
	return sig
}

func sortOperators(ops []testOperator) {
	sort.Slice(ops, func(i, j int) bool {
		return bytes.Compare(ops[i].addr[:], ops[j].addr[:]) < 0
	})
}

func newVerifierEnv(t *testing.T, threshold, total int64, ops ...testOperator) (*Verifier, *fakeSource) {
	source := &fakeSource{
		weights:   map[common.Address]int64{},
		keys:      map[common.Address]common.Address{},
		threshold: threshold,
		total:     total,
	}
	for _, op := range ops {
		source.keys[op.addr] = op.addr
	}
	return NewVerifier(logging.TestLogger(t), source, fakeEpochSource(10)), source
}

func TestVerifier_Rejections(t *testing.T) {
	opA := newTestOperator(t)
	opB := newTestOperator(t)
	sortOperators([]testOperator{opA, opB})

	hash := crypto.Keccak256Hash([]byte("state attestation"))

	verifier, source := newVerifierEnv(t, 100, 10_000, opA, opB)
	source.weights[opA.addr] = 500
	source.weights[opB.addr] = 600

	t.Run("empty signer list", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash, nil, nil, 4)
		require.ErrorIs(t, err, ErrEmptySigners)
	})

	t.Run("length mismatch", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{opA.addr, opB.addr}, [][]byte{opA.sign(t, hash)}, 4)
		require.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("future reference epoch", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{opA.addr}, [][]byte{opA.sign(t, hash)}, 11)
		require.ErrorIs(t, err, ErrFutureEpoch)
	})

	t.Run("duplicate signer", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{opA.addr, opA.addr},
			[][]byte{opA.sign(t, hash), opA.sign(t, hash)}, 4)
		require.ErrorIs(t, err, ErrUnsortedSigners)
	})

	t.Run("unsorted signers", func(t *testing.T) {
		ops := []testOperator{opA, opB}
		sortOperators(ops)
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{ops[1].addr, ops[0].addr},
			[][]byte{ops[1].sign(t, hash), ops[0].sign(t, hash)}, 4)
		require.ErrorIs(t, err, ErrUnsortedSigners)
	})

	t.Run("forged signature", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{opA.addr}, [][]byte{opB.sign(t, hash)}, 4)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("unknown operator has no signing key", func(t *testing.T) {
		stranger := newTestOperator(t)
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{stranger.addr}, [][]byte{stranger.sign(t, hash)}, 4)
		require.ErrorIs(t, err, ErrNoSigningKey)
	})
}

// Scenario: operator A (weight 500) alone cannot meet a threshold of 1000;
// together with operator B (weight 600) the accumulated 1100 passes and the
// ERC-1271 magic value is returned.
func TestVerifier_WeightAccumulation(t *testing.T) {
	ops := []testOperator{newTestOperator(t), newTestOperator(t)}
	sortOperators(ops)
	opA, opB := ops[0], ops[1]

	hash := crypto.Keccak256Hash([]byte("state attestation"))

	verifier, source := newVerifierEnv(t, 1000, 10_000, opA, opB)
	source.weights[opA.addr] = 500
	source.weights[opB.addr] = 600

	t.Run("insufficient solo weight", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{opA.addr}, [][]byte{opA.sign(t, hash)}, 4)
		require.ErrorIs(t, err, ErrInsufficientWeight)
	})

	t.Run("joint submission passes", func(t *testing.T) {
		err := verifier.CheckSignatures(context.Background(), hash,
			[]common.Address{opA.addr, opB.addr},
			[][]byte{opA.sign(t, hash), opB.sign(t, hash)}, 4)
		require.NoError(t, err)
	})

	t.Run("erc1271 wrapper returns magic value", func(t *testing.T) {
		data, err := EncodeAttestation(
			[]common.Address{opA.addr, opB.addr},
			[][]byte{opA.sign(t, hash), opB.sign(t, hash)}, 4)
		require.NoError(t, err)

		magic, err := verifier.IsValidSignature(context.Background(), hash, data)
		require.NoError(t, err)
		require.Equal(t, MagicValue, magic)
	})
}

func TestVerifier_WeightExceedsTotal(t *testing.T) {
	op := newTestOperator(t)
	hash := crypto.Keccak256Hash([]byte("state attestation"))

	// Total weight bookkeeping lags behind the operator weight.
	verifier, source := newVerifierEnv(t, 100, 400, op)
	source.weights[op.addr] = 500

	err := verifier.CheckSignatures(context.Background(), hash,
		[]common.Address{op.addr}, [][]byte{op.sign(t, hash)}, 4)
	require.ErrorIs(t, err, ErrWeightExceedsTotal)
}

func TestVerifier_LegacyRecoveryID(t *testing.T) {
	op := newTestOperator(t)
	hash := crypto.Keccak256Hash([]byte("state attestation"))

	verifier, source := newVerifierEnv(t, 100, 10_000, op)
	source.weights[op.addr] = 500

	// Ethereum tooling commonly emits V as 27/28 rather than 0/1.
	sig := op.sign(t, hash)
	sig[crypto.RecoveryIDOffset] += 27

	err := verifier.CheckSignatures(context.Background(), hash,
		[]common.Address{op.addr}, [][]byte{sig}, 4)
	require.NoError(t, err)
}

func TestAttestation_RoundTrip(t *testing.T) {
	ops := []common.Address{
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
	}
	sigs := [][]byte{{0xde, 0xad}, {0xbe, 0xef}}

	data, err := EncodeAttestation(ops, sigs, 42)
	require.NoError(t, err)

	gotOps, gotSigs, gotEpoch, err := DecodeAttestation(data)
	require.NoError(t, err)
	require.Equal(t, ops, gotOps)
	require.Equal(t, sigs, gotSigs)
	require.Equal(t, uint32(42), gotEpoch)
}
