// Package quorum implements the stateless weighted-threshold multi-signature
// check against the stake checkpoint store at a caller-specified reference
// epoch.
package quorum

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/logging/fields"
)

// MagicValue is the ERC-1271 isValidSignature return value. It doubles as
// the selector of isValidSignature(bytes32,bytes).
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var (
	ErrEmptySigners       = errors.New("signer list is empty")
	ErrLengthMismatch     = errors.New("operators and signatures length mismatch")
	ErrUnsortedSigners    = errors.New("signers must be strictly ascending by address")
	ErrFutureEpoch        = errors.New("reference epoch is greater than the current epoch")
	ErrNoSigningKey       = errors.New("operator has no signing key at the reference epoch")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInsufficientWeight = errors.New("accumulated weight is below the threshold")
	ErrWeightExceedsTotal = errors.New("accumulated weight exceeds the total weight")
)

const recoveryCacheSize = 1024

// CheckpointSource answers registry reads at a reference epoch. Both the
// canonical store and a replica satisfy it.
type CheckpointSource interface {
	WeightAt(operator common.Address, e uint64) (*big.Int, error)
	SigningKeyAt(operator common.Address, e uint64) (common.Address, error)
	ThresholdAt(e uint64) (*big.Int, error)
	TotalWeightAt(e uint64) (*big.Int, error)
}

// EpochSource reports the current epoch.
type EpochSource interface {
	CurrentEpoch() uint64
}

// ContractVerifier checks a signature against an ERC-1271 contract signer.
type ContractVerifier interface {
	IsValidSignature(ctx context.Context, signer common.Address, hash common.Hash, signature []byte) (bool, error)
}

// Verifier checks weighted-threshold multi-signatures. It is stateless with
// respect to the registry: all weights and keys are read at the caller's
// reference epoch.
type Verifier struct {
	logger    *zap.Logger
	source    CheckpointSource
	clock     EpochSource
	contracts ContractVerifier

	// Relayers re-submit identical attestations, so recovered addresses are
	// cached by (hash, signature).
	recovered *lru.Cache[common.Hash, common.Address]
}

func NewVerifier(logger *zap.Logger, source CheckpointSource, clock EpochSource, opts ...Option) *Verifier {
	recovered, err := lru.New[common.Hash, common.Address](recoveryCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	v := &Verifier{
		logger:    logger,
		source:    source,
		clock:     clock,
		recovered: recovered,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithContractVerifier enables ERC-1271 contract-based signature checks for
// signing keys that are contracts.
func WithContractVerifier(contracts ContractVerifier) Option {
	return func(v *Verifier) {
		v.contracts = contracts
	}
}

// CheckSignatures verifies that the given operators signed dataHash and that
// their accumulated weight at referenceEpoch meets the threshold. Operators
// must be strictly ascending by address, which also rules out duplicates.
func (v *Verifier) CheckSignatures(
	ctx context.Context,
	dataHash common.Hash,
	operators []common.Address,
	signatures [][]byte,
	referenceEpoch uint64,
) error {
	if len(operators) == 0 {
		return ErrEmptySigners
	}
	if len(operators) != len(signatures) {
		return errors.Wrapf(ErrLengthMismatch, "%d operators, %d signatures", len(operators), len(signatures))
	}
	if current := v.clock.CurrentEpoch(); referenceEpoch > current {
		return errors.Wrapf(ErrFutureEpoch, "reference epoch %d, current %d", referenceEpoch, current)
	}

	var lastOperator common.Address
	signedWeight := new(big.Int)
	for i, operator := range operators {
		if i > 0 && bytes.Compare(operator[:], lastOperator[:]) <= 0 {
			return errors.Wrapf(ErrUnsortedSigners, "operator %s at index %d", operator, i)
		}
		lastOperator = operator

		signingKey, err := v.source.SigningKeyAt(operator, referenceEpoch)
		if err != nil {
			return err
		}
		if signingKey == (common.Address{}) {
			return errors.Wrapf(ErrNoSigningKey, "operator %s", operator)
		}

		if err := v.verifySignature(ctx, signingKey, dataHash, signatures[i]); err != nil {
			return errors.Wrapf(err, "operator %s", operator)
		}

		weight, err := v.source.WeightAt(operator, referenceEpoch)
		if err != nil {
			return err
		}
		signedWeight.Add(signedWeight, weight)
	}

	threshold, err := v.source.ThresholdAt(referenceEpoch)
	if err != nil {
		return err
	}
	if signedWeight.Cmp(threshold) < 0 {
		return errors.Wrapf(ErrInsufficientWeight, "signed %s, threshold %s", signedWeight, threshold)
	}

	// Guards against stale or inconsistent weight bookkeeping: no signer set
	// can weigh more than the whole registry.
	totalWeight, err := v.source.TotalWeightAt(referenceEpoch)
	if err != nil {
		return err
	}
	if signedWeight.Cmp(totalWeight) > 0 {
		return errors.Wrapf(ErrWeightExceedsTotal, "signed %s, total %s", signedWeight, totalWeight)
	}

	v.logger.Debug("signatures verified",
		fields.Epoch(referenceEpoch),
		fields.Count(len(operators)),
		zap.String(fields.FieldWeight, signedWeight.String()))
	return nil
}

// verifySignature accepts either a plain ECDSA signature recovering to the
// signing key, or an ERC-1271 approval by a contract at the signing key
// address.
func (v *Verifier) verifySignature(ctx context.Context, signingKey common.Address, dataHash common.Hash, signature []byte) error {
	if len(signature) == crypto.SignatureLength {
		recoveredAddr, err := v.recoverSigner(dataHash, signature)
		if err == nil && recoveredAddr == signingKey {
			return nil
		}
	}

	if v.contracts != nil {
		ok, err := v.contracts.IsValidSignature(ctx, signingKey, dataHash, signature)
		if err != nil {
			return errors.Wrap(err, "contract signature check failed")
		}
		if ok {
			return nil
		}
	}

	return ErrInvalidSignature
}

func (v *Verifier) recoverSigner(dataHash common.Hash, signature []byte) (common.Address, error) {
	cacheKey := crypto.Keccak256Hash(dataHash[:], signature)
	if addr, ok := v.recovered.Get(cacheKey); ok {
		return addr, nil
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(dataHash[:], sig)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(*pub)
	v.recovered.Add(cacheKey, addr)
	return addr, nil
}
