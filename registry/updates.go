package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UpdateKind tags a StateUpdate on the wire.
type UpdateKind uint8

const (
	KindRegister UpdateKind = iota
	KindDeregister
	KindUpdateSigningKey
	KindUpdateOperators
	KindUpdateQuorum
	KindUpdateMinWeight
	KindUpdateThreshold
	KindUpdateOperatorsForQuorum
)

func (k UpdateKind) String() string {
	switch k {
	case KindRegister:
		return "Register"
	case KindDeregister:
		return "Deregister"
	case KindUpdateSigningKey:
		return "UpdateSigningKey"
	case KindUpdateOperators:
		return "UpdateOperators"
	case KindUpdateQuorum:
		return "UpdateQuorum"
	case KindUpdateMinWeight:
		return "UpdateMinWeight"
	case KindUpdateThreshold:
		return "UpdateThreshold"
	case KindUpdateOperatorsForQuorum:
		return "UpdateOperatorsForQuorum"
	default:
		return "Unknown"
	}
}

// StateUpdate is one queued registry delta, consumed exactly once by a
// replica. It is a closed sum: exactly one variant exists per update kind
// and replicas dispatch on the kind exhaustively.
type StateUpdate interface {
	Kind() UpdateKind

	isStateUpdate()
}

// RegisterUpdate mirrors a new operator registration: the replica pushes the
// operator's weight and signing-key checkpoints and bumps the total weight.
type RegisterUpdate struct {
	Operator   common.Address
	SigningKey common.Address
	Weight     *big.Int
}

// DeregisterUpdate mirrors a deregistration: the replica pushes a zero-weight
// checkpoint and reduces the total weight.
type DeregisterUpdate struct {
	Operator common.Address
}

// SigningKeyUpdate rebinds an operator's signing key.
type SigningKeyUpdate struct {
	Operator   common.Address
	SigningKey common.Address
}

// OperatorsUpdate refreshes the weights of the named operators.
type OperatorsUpdate struct {
	Operators []common.Address
	Weights   []*big.Int
}

// QuorumUpdate replaces the quorum config and the weights of all named
// operators, which were recomputed under the new config.
type QuorumUpdate struct {
	Quorum    Quorum
	Operators []common.Address
	Weights   []*big.Int
}

// MinWeightUpdate replaces the minimum-weight floor.
type MinWeightUpdate struct {
	MinWeight *big.Int
}

// ThresholdUpdate pushes a new threshold-weight checkpoint.
type ThresholdUpdate struct {
	Threshold *big.Int
}

// OperatorsForQuorumUpdate refreshes the operator-set scoped weights of the
// named operators.
type OperatorsForQuorumUpdate struct {
	Operators []common.Address
	Weights   []*big.Int
}

func (RegisterUpdate) Kind() UpdateKind           { return KindRegister }
func (DeregisterUpdate) Kind() UpdateKind         { return KindDeregister }
func (SigningKeyUpdate) Kind() UpdateKind         { return KindUpdateSigningKey }
func (OperatorsUpdate) Kind() UpdateKind          { return KindUpdateOperators }
func (QuorumUpdate) Kind() UpdateKind             { return KindUpdateQuorum }
func (MinWeightUpdate) Kind() UpdateKind          { return KindUpdateMinWeight }
func (ThresholdUpdate) Kind() UpdateKind          { return KindUpdateThreshold }
func (OperatorsForQuorumUpdate) Kind() UpdateKind { return KindUpdateOperatorsForQuorum }

func (RegisterUpdate) isStateUpdate()           {}
func (DeregisterUpdate) isStateUpdate()         {}
func (SigningKeyUpdate) isStateUpdate()         {}
func (OperatorsUpdate) isStateUpdate()          {}
func (QuorumUpdate) isStateUpdate()             {}
func (MinWeightUpdate) isStateUpdate()          {}
func (ThresholdUpdate) isStateUpdate()          {}
func (OperatorsForQuorumUpdate) isStateUpdate() {}
