// Package registry implements the canonical stake checkpoint store: per
// operator weight and signing-key histories, global threshold and total
// weight histories, and the queue of per-epoch deltas consumed by the sync
// pipeline.
package registry

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/checkpoint"
	"github.com/statelayer/statelayer/epoch"
	"github.com/statelayer/statelayer/logging/fields"
	"github.com/statelayer/statelayer/storage/basedb"
)

var (
	ErrOperatorRegistered    = errors.New("operator is already registered")
	ErrOperatorNotRegistered = errors.New("operator is not registered")
	ErrSigningKeyInUse       = errors.New("signing key is already bound to another operator")
	ErrFutureEpoch           = errors.New("epoch is greater than the current epoch")
	ErrZeroAddress           = errors.New("address must not be zero")
	ErrNotInDirectory        = errors.New("operator is not registered with the service directory")
	ErrNotOperatorSetMember  = errors.New("operator is not a member of the operator set")
)

var (
	storagePrefix   = []byte("registry/")
	operatorsPrefix = []byte("operators")
	pendingPrefix   = []byte("pending")
	configKey       = []byte("config")
	thresholdKey    = []byte("threshold")
	totalWeightKey  = []byte("totalweight")
)

// DirectoryReader reads registration status from the service directory
// (legacy registration path).
type DirectoryReader interface {
	IsOperatorRegistered(ctx context.Context, operator common.Address) (bool, error)
}

// OperatorRecord holds one operator's registration flags and checkpoint
// histories. Records are created on first registration and never deleted;
// deregistration pushes a zero-weight checkpoint instead.
type OperatorRecord struct {
	DirectoryRegistered   bool                                `json:"directoryRegistered"`
	OperatorSetRegistered bool                                `json:"operatorSetRegistered"`
	Weights               *checkpoint.History[*big.Int]       `json:"weights"`
	SigningKeys           *checkpoint.History[common.Address] `json:"signingKeys"`
}

// Registered reports the union of the two registration paths.
func (r *OperatorRecord) Registered() bool {
	return r.DirectoryRegistered || r.OperatorSetRegistered
}

func newOperatorRecord() *OperatorRecord {
	return &OperatorRecord{
		Weights:     checkpoint.NewHistory[*big.Int](),
		SigningKeys: checkpoint.NewHistory[common.Address](),
	}
}

// Snapshot is a full copy of the registry state for one epoch, sent to
// remote chains when the delta queue is not suitable.
type Snapshot struct {
	Epoch           uint64
	Operators       []common.Address
	SigningKeys     []common.Address
	Weights         []*big.Int
	ThresholdWeight *big.Int
}

// Store is the canonical stake checkpoint store. Mutations run under a
// single lock: execution is transaction-serialized per chain, each mutating
// call runs to completion before the next begins.
type Store struct {
	logger *zap.Logger
	db     basedb.Database
	clock  *epoch.Clock

	delegation DelegationReader
	allocation AllocationReader
	directory  DirectoryReader

	mu          sync.RWMutex
	quorum      Quorum
	minWeight   *big.Int
	operators   map[common.Address]*OperatorRecord
	keyOwners   map[common.Address]common.Address
	threshold   *checkpoint.History[*big.Int]
	totalWeight *checkpoint.History[*big.Int]
	pending     map[uint64][]StateUpdate
}

func NewStore(
	logger *zap.Logger,
	db basedb.Database,
	clock *epoch.Clock,
	delegation DelegationReader,
	allocation AllocationReader,
	directory DirectoryReader,
	quorum Quorum,
) (*Store, error) {
	if err := quorum.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		logger:      logger,
		db:          db,
		clock:       clock,
		delegation:  delegation,
		allocation:  allocation,
		directory:   directory,
		quorum:      quorum,
		minWeight:   new(big.Int),
		operators:   make(map[common.Address]*OperatorRecord),
		keyOwners:   make(map[common.Address]common.Address),
		threshold:   checkpoint.NewHistory[*big.Int](),
		totalWeight: checkpoint.NewHistory[*big.Int](),
		pending:     make(map[uint64][]StateUpdate),
	}
	if err := s.load(); err != nil {
		return nil, errors.Wrap(err, "could not load registry state")
	}
	return s, nil
}

// RegisterOperator registers an operator through the legacy directory path.
func (s *Store) RegisterOperator(ctx context.Context, operator, signingKey common.Address) error {
	if operator == (common.Address{}) || signingKey == (common.Address{}) {
		return ErrZeroAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.operators[operator]
	if rec != nil && rec.Registered() {
		return errors.Wrapf(ErrOperatorRegistered, "operator %s", operator)
	}
	if owner, ok := s.keyOwners[signingKey]; ok && owner != operator {
		return errors.Wrapf(ErrSigningKeyInUse, "signing key %s owned by %s", signingKey, owner)
	}

	registered, err := s.directory.IsOperatorRegistered(ctx, operator)
	if err != nil {
		return errors.Wrap(err, "could not query service directory")
	}
	if !registered {
		return errors.Wrapf(ErrNotInDirectory, "operator %s", operator)
	}

	// Compute the weight before touching the record: a failing reader must
	// leave the store exactly as it was.
	flags := OperatorRecord{DirectoryRegistered: true}
	if rec != nil {
		flags.OperatorSetRegistered = rec.OperatorSetRegistered
	}
	weight, err := s.registryWeight(ctx, operator, &flags)
	if err != nil {
		return err
	}

	if rec == nil {
		rec = newOperatorRecord()
		s.operators[operator] = rec
	}
	rec.DirectoryRegistered = true

	return s.commitRegistration(operator, signingKey, rec, weight)
}

// RegisterOperatorForSet registers an operator through the operator-set path.
func (s *Store) RegisterOperatorForSet(ctx context.Context, operator, signingKey common.Address) error {
	if operator == (common.Address{}) || signingKey == (common.Address{}) {
		return ErrZeroAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.operators[operator]
	if rec != nil && rec.Registered() {
		return errors.Wrapf(ErrOperatorRegistered, "operator %s", operator)
	}
	if owner, ok := s.keyOwners[signingKey]; ok && owner != operator {
		return errors.Wrapf(ErrSigningKeyInUse, "signing key %s owned by %s", signingKey, owner)
	}

	member, err := s.allocation.IsOperatorSetMember(ctx, operator)
	if err != nil {
		return errors.Wrap(err, "could not query operator set membership")
	}
	if !member {
		return errors.Wrapf(ErrNotOperatorSetMember, "operator %s", operator)
	}

	flags := OperatorRecord{OperatorSetRegistered: true}
	if rec != nil {
		flags.DirectoryRegistered = rec.DirectoryRegistered
	}
	weight, err := s.registryWeight(ctx, operator, &flags)
	if err != nil {
		return err
	}

	if rec == nil {
		rec = newOperatorRecord()
		s.operators[operator] = rec
	}
	rec.OperatorSetRegistered = true

	return s.commitRegistration(operator, signingKey, rec, weight)
}

func (s *Store) commitRegistration(operator, signingKey common.Address, rec *OperatorRecord, weight *big.Int) error {
	e := s.clock.EffectiveEpoch()
	if err := rec.Weights.Push(e, weight); err != nil {
		return err
	}
	if err := rec.SigningKeys.Push(e, signingKey); err != nil {
		return err
	}
	s.keyOwners[signingKey] = operator

	if err := s.bumpTotalWeight(e, weight); err != nil {
		return err
	}
	s.enqueue(e, RegisterUpdate{Operator: operator, SigningKey: signingKey, Weight: weight})

	if err := s.saveOperator(operator, rec); err != nil {
		return err
	}
	if err := s.saveGlobals(); err != nil {
		return err
	}

	s.logger.Info("operator registered",
		fields.Operator(operator),
		fields.SigningKey(signingKey),
		fields.Epoch(e),
		zap.String(fields.FieldWeight, weight.String()))
	return nil
}

// DeregisterOperator pushes a zero-weight checkpoint for the operator and
// clears its registration flags. The record itself is never deleted.
func (s *Store) DeregisterOperator(operator common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.operators[operator]
	if rec == nil || !rec.Registered() {
		return errors.Wrapf(ErrOperatorNotRegistered, "operator %s", operator)
	}

	current := new(big.Int)
	if latest, ok := rec.Weights.Latest(); ok {
		current = latest.Value
	}

	e := s.clock.EffectiveEpoch()
	if err := rec.Weights.Push(e, new(big.Int)); err != nil {
		return err
	}
	rec.DirectoryRegistered = false
	rec.OperatorSetRegistered = false

	if err := s.bumpTotalWeight(e, new(big.Int).Neg(current)); err != nil {
		return err
	}
	s.enqueue(e, DeregisterUpdate{Operator: operator})

	if err := s.saveOperator(operator, rec); err != nil {
		return err
	}
	if err := s.saveGlobals(); err != nil {
		return err
	}

	s.logger.Info("operator deregistered", fields.Operator(operator), fields.Epoch(e))
	return nil
}

// UpdateSigningKey rebinds the operator's signing key from the effective
// epoch onward.
func (s *Store) UpdateSigningKey(operator, signingKey common.Address) error {
	if signingKey == (common.Address{}) {
		return ErrZeroAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.operators[operator]
	if rec == nil || !rec.Registered() {
		return errors.Wrapf(ErrOperatorNotRegistered, "operator %s", operator)
	}
	if owner, ok := s.keyOwners[signingKey]; ok && owner != operator {
		return errors.Wrapf(ErrSigningKeyInUse, "signing key %s owned by %s", signingKey, owner)
	}

	e := s.clock.EffectiveEpoch()
	if latest, ok := rec.SigningKeys.Latest(); ok {
		delete(s.keyOwners, latest.Value)
	}
	if err := rec.SigningKeys.Push(e, signingKey); err != nil {
		return err
	}
	s.keyOwners[signingKey] = operator

	s.enqueue(e, SigningKeyUpdate{Operator: operator, SigningKey: signingKey})

	if err := s.saveOperator(operator, rec); err != nil {
		return err
	}
	if err := s.saveGlobals(); err != nil {
		return err
	}

	s.logger.Info("signing key updated", fields.Operator(operator), fields.SigningKey(signingKey), fields.Epoch(e))
	return nil
}

// UpdateOperators recomputes the weights of the named operators from live
// delegation and allocation data.
func (s *Store) UpdateOperators(ctx context.Context, operators []common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	weights, err := s.refreshWeights(ctx, operators, false)
	if err != nil {
		return err
	}
	e := s.clock.EffectiveEpoch()
	s.enqueue(e, OperatorsUpdate{Operators: operators, Weights: weights})
	return s.saveGlobals()
}

// UpdateOperatorsForQuorum refreshes operator-set membership and recomputes
// the weights of the named operators.
func (s *Store) UpdateOperatorsForQuorum(ctx context.Context, operators []common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	weights, err := s.refreshWeights(ctx, operators, true)
	if err != nil {
		return err
	}
	e := s.clock.EffectiveEpoch()
	s.enqueue(e, OperatorsForQuorumUpdate{Operators: operators, Weights: weights})
	return s.saveGlobals()
}

func (s *Store) refreshWeights(ctx context.Context, operators []common.Address, refreshMembership bool) ([]*big.Int, error) {
	e := s.clock.EffectiveEpoch()

	// Read phase: every membership and weight read runs before any record is
	// touched, so one failing operator aborts the refresh with no change.
	type refresh struct {
		rec    *OperatorRecord
		member bool
		weight *big.Int
	}
	staged := make([]refresh, len(operators))
	for i, operator := range operators {
		rec := s.operators[operator]
		if rec == nil {
			return nil, errors.Wrapf(ErrOperatorNotRegistered, "operator %s", operator)
		}
		member := rec.OperatorSetRegistered
		if refreshMembership && rec.OperatorSetRegistered {
			var err error
			member, err = s.allocation.IsOperatorSetMember(ctx, operator)
			if err != nil {
				return nil, errors.Wrap(err, "could not query operator set membership")
			}
		}

		weight := new(big.Int)
		flags := OperatorRecord{DirectoryRegistered: rec.DirectoryRegistered, OperatorSetRegistered: member}
		if flags.Registered() {
			var err error
			weight, err = s.registryWeight(ctx, operator, &flags)
			if err != nil {
				return nil, err
			}
		}
		staged[i] = refresh{rec: rec, member: member, weight: weight}
	}

	// Commit phase.
	weights := make([]*big.Int, len(operators))
	for i, operator := range operators {
		rec := staged[i].rec
		if refreshMembership {
			rec.OperatorSetRegistered = staged[i].member
		}

		previous := new(big.Int)
		if latest, ok := rec.Weights.Latest(); ok {
			previous = latest.Value
		}
		if err := rec.Weights.Push(e, staged[i].weight); err != nil {
			return nil, err
		}
		delta := new(big.Int).Sub(staged[i].weight, previous)
		if err := s.bumpTotalWeight(e, delta); err != nil {
			return nil, err
		}
		if err := s.saveOperator(operator, rec); err != nil {
			return nil, err
		}
		weights[i] = staged[i].weight
	}
	return weights, nil
}

// SetQuorum replaces the quorum configuration and recomputes every
// registered operator's weight under it.
func (s *Store) SetQuorum(ctx context.Context, quorum Quorum) error {
	if err := quorum.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.quorum = quorum

	operators := s.registeredOperatorsLocked()
	weights, err := s.refreshWeights(ctx, operators, false)
	if err != nil {
		return err
	}

	e := s.clock.EffectiveEpoch()
	s.enqueue(e, QuorumUpdate{Quorum: quorum, Operators: operators, Weights: weights})

	if err := s.saveGlobals(); err != nil {
		return err
	}
	s.logger.Info("quorum updated", fields.Epoch(e), fields.Count(len(operators)))
	return nil
}

// SetMinWeight replaces the minimum-weight floor applied to quorum weights.
func (s *Store) SetMinWeight(minWeight *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minWeight = new(big.Int).Set(minWeight)
	e := s.clock.EffectiveEpoch()
	s.enqueue(e, MinWeightUpdate{MinWeight: s.minWeight})
	return s.saveGlobals()
}

// SetThreshold pushes a new threshold-weight checkpoint at the effective
// epoch.
func (s *Store) SetThreshold(threshold *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.clock.EffectiveEpoch()
	if err := s.threshold.Push(e, new(big.Int).Set(threshold)); err != nil {
		return err
	}
	s.enqueue(e, ThresholdUpdate{Threshold: new(big.Int).Set(threshold)})

	if err := s.saveGlobals(); err != nil {
		return err
	}
	s.logger.Info("threshold updated", fields.Epoch(e), zap.String(fields.FieldWeight, threshold.String()))
	return nil
}

// WeightAt returns the operator's weight at the given epoch, or zero when no
// checkpoint exists at or before it.
func (s *Store) WeightAt(operator common.Address, e uint64) (*big.Int, error) {
	if err := s.checkEpoch(e); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.operators[operator]
	if rec == nil {
		return new(big.Int), nil
	}
	if w, ok := rec.Weights.Lookup(e); ok {
		return new(big.Int).Set(w), nil
	}
	return new(big.Int), nil
}

// SigningKeyAt returns the operator's signing key at the given epoch, or the
// zero address when no checkpoint exists at or before it.
func (s *Store) SigningKeyAt(operator common.Address, e uint64) (common.Address, error) {
	if err := s.checkEpoch(e); err != nil {
		return common.Address{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.operators[operator]
	if rec == nil {
		return common.Address{}, nil
	}
	key, _ := rec.SigningKeys.Lookup(e)
	return key, nil
}

// ThresholdAt returns the threshold weight at the given epoch.
func (s *Store) ThresholdAt(e uint64) (*big.Int, error) {
	if err := s.checkEpoch(e); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.threshold.Lookup(e); ok {
		return new(big.Int).Set(w), nil
	}
	return new(big.Int), nil
}

// TotalWeightAt returns the total registry weight at the given epoch.
func (s *Store) TotalWeightAt(e uint64) (*big.Int, error) {
	if err := s.checkEpoch(e); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.totalWeight.Lookup(e); ok {
		return new(big.Int).Set(w), nil
	}
	return new(big.Int), nil
}

// IsRegistered reports whether the operator is registered through either
// registration path.
func (s *Store) IsRegistered(operator common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := s.operators[operator]
	return rec != nil && rec.Registered()
}

// Quorum returns the active quorum configuration.
func (s *Store) Quorum() Quorum {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quorum
}

// RegisteredOperators returns all registered operator addresses, ascending.
func (s *Store) RegisteredOperators() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registeredOperatorsLocked()
}

func (s *Store) registeredOperatorsLocked() []common.Address {
	var out []common.Address
	for addr, rec := range s.operators {
		if rec.Registered() {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// SnapshotAt assembles a full snapshot of the given operator subset at the
// given epoch.
func (s *Store) SnapshotAt(e uint64, operators []common.Address) (Snapshot, error) {
	if err := s.checkEpoch(e); err != nil {
		return Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{
		Epoch:           e,
		Operators:       operators,
		SigningKeys:     make([]common.Address, len(operators)),
		Weights:         make([]*big.Int, len(operators)),
		ThresholdWeight: new(big.Int),
	}
	for i, operator := range operators {
		rec := s.operators[operator]
		if rec == nil {
			return Snapshot{}, errors.Wrapf(ErrOperatorNotRegistered, "operator %s", operator)
		}
		if key, ok := rec.SigningKeys.Lookup(e); ok {
			snapshot.SigningKeys[i] = key
		}
		snapshot.Weights[i] = new(big.Int)
		if w, ok := rec.Weights.Lookup(e); ok {
			snapshot.Weights[i].Set(w)
		}
	}
	if w, ok := s.threshold.Lookup(e); ok {
		snapshot.ThresholdWeight.Set(w)
	}
	return snapshot, nil
}

// PendingUpdates returns a copy of the queued updates targeting the epoch.
func (s *Store) PendingUpdates(e uint64) []StateUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StateUpdate, len(s.pending[e]))
	copy(out, s.pending[e])
	return out
}

// DrainUpdates removes and returns the queued updates targeting the epoch.
// Each queued update is consumed exactly once.
func (s *Store) DrainUpdates(e uint64) ([]StateUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updates := s.pending[e]
	delete(s.pending, e)
	if err := s.db.Delete(storagePrefix, buildPendingKey(e)); err != nil {
		return nil, errors.Wrap(err, "could not delete pending updates")
	}
	return updates, nil
}

func (s *Store) checkEpoch(e uint64) error {
	if current := s.clock.CurrentEpoch(); e > current {
		return errors.Wrapf(ErrFutureEpoch, "epoch %d, current %d", e, current)
	}
	return nil
}

func (s *Store) bumpTotalWeight(e uint64, delta *big.Int) error {
	total := new(big.Int)
	if latest, ok := s.totalWeight.Latest(); ok {
		total.Set(latest.Value)
	}
	total.Add(total, delta)
	return s.totalWeight.Push(e, total)
}

func (s *Store) enqueue(e uint64, update StateUpdate) {
	s.pending[e] = append(s.pending[e], update)
	metricUpdatesQueued.WithLabelValues(update.Kind().String()).Inc()
	s.logger.Debug("queued state update", fields.Epoch(e), fields.UpdateType(update.Kind().String()))
}
