package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// DelegationReader reads delegated stake from the delegation layer.
type DelegationReader interface {
	// OperatorShares returns the operator's delegated shares per strategy,
	// in the order the strategies are given.
	OperatorShares(ctx context.Context, operator common.Address, strategies []common.Address) ([]*big.Int, error)
}

// AllocationReader reads slashable-stake allocations of the operator-set
// registration path.
type AllocationReader interface {
	// Allocation returns the operator's current allocated magnitude for the
	// strategy.
	Allocation(ctx context.Context, operator common.Address, strategy common.Address) (*big.Int, error)
	// MaxMagnitude returns the operator's maximum magnitude for the strategy.
	MaxMagnitude(ctx context.Context, operator common.Address, strategy common.Address) (*big.Int, error)
	// IsOperatorSetMember reports whether the operator belongs to the
	// service's operator set.
	IsOperatorSetMember(ctx context.Context, operator common.Address) (bool, error)
}

// quorumWeight computes sum(shares_i * multiplier_i) / 10000 over the quorum
// strategies, zeroed out below the minimum-weight floor.
func (s *Store) quorumWeight(ctx context.Context, operator common.Address) (*big.Int, error) {
	shares, err := s.delegation.OperatorShares(ctx, operator, s.quorum.StrategyAddresses())
	if err != nil {
		return nil, errors.Wrap(err, "could not read operator shares")
	}
	weight, err := s.quorum.WeightFromShares(shares)
	if err != nil {
		return nil, err
	}
	if s.minWeight != nil && weight.Cmp(s.minWeight) < 0 {
		return new(big.Int), nil
	}
	return weight, nil
}

// operatorSetWeight computes the slashable-stake weight of the operator-set
// path: each strategy's shares are scaled by the allocation proportion
// currentMagnitude/maxMagnitude before the quorum multiplier is applied.
func (s *Store) operatorSetWeight(ctx context.Context, operator common.Address) (*big.Int, error) {
	member, err := s.allocation.IsOperatorSetMember(ctx, operator)
	if err != nil {
		return nil, errors.Wrap(err, "could not read operator set membership")
	}
	if !member {
		return new(big.Int), nil
	}

	strategies := s.quorum.StrategyAddresses()
	shares, err := s.delegation.OperatorShares(ctx, operator, strategies)
	if err != nil {
		return nil, errors.Wrap(err, "could not read operator shares")
	}

	sum := new(big.Int)
	for i, params := range s.quorum.Strategies {
		if shares[i] == nil || shares[i].Sign() == 0 {
			continue
		}
		current, err := s.allocation.Allocation(ctx, operator, params.Strategy)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read allocation for strategy %s", params.Strategy)
		}
		maxMagnitude, err := s.allocation.MaxMagnitude(ctx, operator, params.Strategy)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read max magnitude for strategy %s", params.Strategy)
		}
		if maxMagnitude == nil || maxMagnitude.Sign() == 0 {
			continue
		}
		slashable := new(big.Int).Mul(shares[i], current)
		slashable.Div(slashable, maxMagnitude)
		slashable.Mul(slashable, new(big.Int).SetUint64(params.Multiplier))
		sum.Add(sum, slashable)
	}
	return sum.Div(sum, big.NewInt(TotalBasisPoints)), nil
}

// registryWeight is the operator's total weight: the quorum weight of the
// legacy path plus the operator-set weight, each counted only for the paths
// the operator is registered through.
func (s *Store) registryWeight(ctx context.Context, operator common.Address, rec *OperatorRecord) (*big.Int, error) {
	total := new(big.Int)
	if rec.DirectoryRegistered {
		w, err := s.quorumWeight(ctx, operator)
		if err != nil {
			return nil, err
		}
		total.Add(total, w)
	}
	if rec.OperatorSetRegistered {
		w, err := s.operatorSetWeight(ctx, operator)
		if err != nil {
			return nil, err
		}
		total.Add(total, w)
	}
	return total, nil
}
