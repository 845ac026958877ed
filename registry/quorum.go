package registry

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TotalBasisPoints is the required sum of all strategy multipliers.
const TotalBasisPoints = 10_000

var (
	ErrInvalidQuorum  = errors.New("quorum multipliers must sum to exactly 10000 basis points")
	ErrUnsortedQuorum = errors.New("quorum strategies must be strictly ascending by address")
	ErrEmptyQuorum    = errors.New("quorum must contain at least one strategy")
	ErrZeroStrategy   = errors.New("quorum strategy address must not be zero")
	ErrZeroMultiplier = errors.New("quorum strategy multiplier must not be zero")
)

// StrategyParams binds a stake strategy to its weight multiplier in basis
// points.
type StrategyParams struct {
	Strategy   common.Address `json:"strategy"`
	Multiplier uint64         `json:"multiplier"`
}

// Quorum is an ordered, deduplicated list of (strategy, multiplier) pairs
// whose multipliers sum to exactly TotalBasisPoints.
type Quorum struct {
	Strategies []StrategyParams `json:"strategies"`
}

// Validate checks the quorum invariants before it is committed.
func (q Quorum) Validate() error {
	if len(q.Strategies) == 0 {
		return ErrEmptyQuorum
	}

	var (
		sum  uint64
		last common.Address
	)
	for i, s := range q.Strategies {
		if s.Strategy == (common.Address{}) {
			return ErrZeroStrategy
		}
		if s.Multiplier == 0 {
			return ErrZeroMultiplier
		}
		// Strict ascending order implies absence of duplicates.
		if i > 0 && bytes.Compare(s.Strategy[:], last[:]) <= 0 {
			return errors.Wrapf(ErrUnsortedQuorum, "strategy %s at index %d", s.Strategy, i)
		}
		last = s.Strategy
		sum += s.Multiplier
	}
	if sum != TotalBasisPoints {
		return errors.Wrapf(ErrInvalidQuorum, "got %d", sum)
	}
	return nil
}

// StrategyAddresses returns the quorum's strategy addresses in order.
func (q Quorum) StrategyAddresses() []common.Address {
	out := make([]common.Address, len(q.Strategies))
	for i, s := range q.Strategies {
		out[i] = s.Strategy
	}
	return out
}

// WeightFromShares applies the quorum multipliers to per-strategy share
// amounts: sum(shares_i * multiplier_i) / TotalBasisPoints.
func (q Quorum) WeightFromShares(shares []*big.Int) (*big.Int, error) {
	if len(shares) != len(q.Strategies) {
		return nil, errors.Errorf("shares length %d does not match quorum size %d", len(shares), len(q.Strategies))
	}
	sum := new(big.Int)
	for i, s := range q.Strategies {
		if shares[i] == nil {
			continue
		}
		weighted := new(big.Int).Mul(shares[i], new(big.Int).SetUint64(s.Multiplier))
		sum.Add(sum, weighted)
	}
	return sum.Div(sum, big.NewInt(TotalBasisPoints)), nil
}
