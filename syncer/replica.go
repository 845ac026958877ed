package syncer

import (
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/checkpoint"
	"github.com/statelayer/statelayer/logging/fields"
	"github.com/statelayer/statelayer/registry"
	"github.com/statelayer/statelayer/storage/basedb"
)

var (
	// ErrStaleEpoch guards replica monotonicity: incoming updates must
	// target an epoch newer than the last applied one.
	ErrStaleEpoch = errors.New("update epoch is not newer than the last applied epoch")

	ErrUnknownOperator = errors.New("update names an operator unknown to the replica")
)

var (
	replicaPrefix = []byte("replica/")
	stateKey      = []byte("state")
)

type replicaRecord struct {
	Weights     *checkpoint.History[*big.Int]       `json:"weights"`
	SigningKeys *checkpoint.History[common.Address] `json:"signingKeys"`
}

func newReplicaRecord() *replicaRecord {
	return &replicaRecord{
		Weights:     checkpoint.NewHistory[*big.Int](),
		SigningKeys: checkpoint.NewHistory[common.Address](),
	}
}

type replicaState struct {
	LastApplied uint64                             `json:"lastApplied"`
	HasApplied  bool                               `json:"hasApplied"`
	Quorum      registry.Quorum                    `json:"quorum"`
	MinWeight   *big.Int                           `json:"minWeight"`
	Operators   map[common.Address]*replicaRecord  `json:"operators"`
	Threshold   *checkpoint.History[*big.Int]      `json:"threshold"`
	TotalWeight *checkpoint.History[*big.Int]      `json:"totalWeight"`
}

func newReplicaState() *replicaState {
	return &replicaState{
		MinWeight:   new(big.Int),
		Operators:   make(map[common.Address]*replicaRecord),
		Threshold:   checkpoint.NewHistory[*big.Int](),
		TotalWeight: checkpoint.NewHistory[*big.Int](),
	}
}

// normalize re-allocates any field a decoded blob left nil, so the apply
// path can rely on every history and map being present.
func (s *replicaState) normalize() {
	if s.MinWeight == nil {
		s.MinWeight = new(big.Int)
	}
	if s.Operators == nil {
		s.Operators = make(map[common.Address]*replicaRecord)
	}
	if s.Threshold == nil {
		s.Threshold = checkpoint.NewHistory[*big.Int]()
	}
	if s.TotalWeight == nil {
		s.TotalWeight = checkpoint.NewHistory[*big.Int]()
	}
	for _, rec := range s.Operators {
		if rec.Weights == nil {
			rec.Weights = checkpoint.NewHistory[*big.Int]()
		}
		if rec.SigningKeys == nil {
			rec.SigningKeys = checkpoint.NewHistory[common.Address]()
		}
	}
}

// Replica is the light registry kept on a remote chain. For any fully
// synchronized epoch its reads match the canonical store's.
//
// Applies are atomic: updates are staged on a copy of the state and the copy
// replaces the live state only when every update in the batch succeeds.
type Replica struct {
	logger *zap.Logger
	db     basedb.Database

	mu    sync.RWMutex
	state *replicaState
}

func NewReplica(logger *zap.Logger, db basedb.Database) (*Replica, error) {
	r := &Replica{
		logger: logger,
		db:     db,
		state:  newReplicaState(),
	}

	obj, found, err := db.Get(replicaPrefix, stateKey)
	if err != nil {
		return nil, errors.Wrap(err, "could not load replica state")
	}
	if found {
		if err := json.Unmarshal(obj.Value, r.state); err != nil {
			return nil, errors.Wrap(err, "could not unmarshal replica state")
		}
		r.state.normalize()
	}
	return r, nil
}

// LastAppliedEpoch returns the newest epoch the replica has applied.
func (r *Replica) LastAppliedEpoch() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.LastApplied, r.state.HasApplied
}

// ApplyUpdates applies a batch of state updates targeting the given epoch.
func (r *Replica) ApplyUpdates(epoch uint64, updates []registry.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIncomingEpoch(epoch); err != nil {
		return err
	}

	staged, err := r.cloneState()
	if err != nil {
		return err
	}
	for _, update := range updates {
		if err := applyUpdate(staged, epoch, update); err != nil {
			return errors.Wrapf(err, "apply %s", update.Kind())
		}
	}
	staged.LastApplied = epoch
	staged.HasApplied = true

	if err := r.persist(staged); err != nil {
		return err
	}
	r.state = staged

	r.logger.Info("applied state updates", fields.Epoch(epoch), fields.Count(len(updates)))
	return nil
}

// ApplySnapshot replaces the named operators' checkpoints with a full
// snapshot for the snapshot's epoch.
func (r *Replica) ApplySnapshot(s registry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIncomingEpoch(s.Epoch); err != nil {
		return err
	}

	staged, err := r.cloneState()
	if err != nil {
		return err
	}

	total := new(big.Int)
	for i, operator := range s.Operators {
		rec := staged.Operators[operator]
		if rec == nil {
			rec = newReplicaRecord()
			staged.Operators[operator] = rec
		}
		if err := rec.Weights.Push(s.Epoch, s.Weights[i]); err != nil {
			return err
		}
		if err := rec.SigningKeys.Push(s.Epoch, s.SigningKeys[i]); err != nil {
			return err
		}
		total.Add(total, s.Weights[i])
	}
	if err := staged.Threshold.Push(s.Epoch, s.ThresholdWeight); err != nil {
		return err
	}
	if err := staged.TotalWeight.Push(s.Epoch, total); err != nil {
		return err
	}
	staged.LastApplied = s.Epoch
	staged.HasApplied = true

	if err := r.persist(staged); err != nil {
		return err
	}
	r.state = staged

	r.logger.Info("applied snapshot", fields.Epoch(s.Epoch), fields.Count(len(s.Operators)))
	return nil
}

// WeightAt returns the operator's replicated weight at the given epoch.
func (r *Replica) WeightAt(operator common.Address, e uint64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQueryEpoch(e); err != nil {
		return nil, err
	}
	rec := r.state.Operators[operator]
	if rec == nil {
		return new(big.Int), nil
	}
	if w, ok := rec.Weights.Lookup(e); ok {
		return new(big.Int).Set(w), nil
	}
	return new(big.Int), nil
}

// SigningKeyAt returns the operator's replicated signing key at the epoch.
func (r *Replica) SigningKeyAt(operator common.Address, e uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQueryEpoch(e); err != nil {
		return common.Address{}, err
	}
	rec := r.state.Operators[operator]
	if rec == nil {
		return common.Address{}, nil
	}
	key, _ := rec.SigningKeys.Lookup(e)
	return key, nil
}

// ThresholdAt returns the replicated threshold weight at the epoch.
func (r *Replica) ThresholdAt(e uint64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQueryEpoch(e); err != nil {
		return nil, err
	}
	if w, ok := r.state.Threshold.Lookup(e); ok {
		return new(big.Int).Set(w), nil
	}
	return new(big.Int), nil
}

// TotalWeightAt returns the replicated total weight at the epoch.
func (r *Replica) TotalWeightAt(e uint64) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQueryEpoch(e); err != nil {
		return nil, err
	}
	if w, ok := r.state.TotalWeight.Lookup(e); ok {
		return new(big.Int).Set(w), nil
	}
	return new(big.Int), nil
}

// CurrentEpoch reports the last applied epoch; it makes the replica usable
// as the epoch source of a quorum verifier on the remote chain.
func (r *Replica) CurrentEpoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.state.HasApplied {
		return 0
	}
	return r.state.LastApplied
}

func (r *Replica) checkIncomingEpoch(e uint64) error {
	if r.state.HasApplied && e <= r.state.LastApplied {
		return errors.Wrapf(ErrStaleEpoch, "epoch %d, last applied %d", e, r.state.LastApplied)
	}
	return nil
}

func (r *Replica) checkQueryEpoch(e uint64) error {
	if !r.state.HasApplied || e > r.state.LastApplied {
		return errors.Wrapf(registry.ErrFutureEpoch, "epoch %d not yet synchronized", e)
	}
	return nil
}

// cloneState deep-copies the replica state via its JSON representation.
func (r *Replica) cloneState() (*replicaState, error) {
	raw, err := json.Marshal(r.state)
	if err != nil {
		return nil, errors.Wrap(err, "could not clone replica state")
	}
	staged := newReplicaState()
	if err := json.Unmarshal(raw, staged); err != nil {
		return nil, errors.Wrap(err, "could not clone replica state")
	}
	staged.normalize()
	return staged, nil
}

func (r *Replica) persist(state *replicaState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "could not marshal replica state")
	}
	return r.db.Set(replicaPrefix, stateKey, raw)
}

// applyUpdate dispatches on the update's kind. StateUpdate is a closed sum,
// so the switch covers every variant.
func applyUpdate(state *replicaState, epoch uint64, update registry.StateUpdate) error {
	switch u := update.(type) {
	case registry.RegisterUpdate:
		rec := state.Operators[u.Operator]
		if rec == nil {
			rec = newReplicaRecord()
			state.Operators[u.Operator] = rec
		}
		if err := rec.Weights.Push(epoch, u.Weight); err != nil {
			return err
		}
		if err := rec.SigningKeys.Push(epoch, u.SigningKey); err != nil {
			return err
		}
		return bumpTotal(state, epoch, u.Weight)

	case registry.DeregisterUpdate:
		rec := state.Operators[u.Operator]
		if rec == nil {
			return errors.Wrapf(ErrUnknownOperator, "operator %s", u.Operator)
		}
		current := new(big.Int)
		if latest, ok := rec.Weights.Latest(); ok {
			current = latest.Value
		}
		if err := rec.Weights.Push(epoch, new(big.Int)); err != nil {
			return err
		}
		return bumpTotal(state, epoch, new(big.Int).Neg(current))

	case registry.SigningKeyUpdate:
		rec := state.Operators[u.Operator]
		if rec == nil {
			return errors.Wrapf(ErrUnknownOperator, "operator %s", u.Operator)
		}
		return rec.SigningKeys.Push(epoch, u.SigningKey)

	case registry.OperatorsUpdate:
		return applyWeights(state, epoch, u.Operators, u.Weights)

	case registry.QuorumUpdate:
		if err := u.Quorum.Validate(); err != nil {
			return err
		}
		state.Quorum = u.Quorum
		return applyWeights(state, epoch, u.Operators, u.Weights)

	case registry.MinWeightUpdate:
		state.MinWeight = new(big.Int).Set(u.MinWeight)
		return nil

	case registry.ThresholdUpdate:
		return state.Threshold.Push(epoch, u.Threshold)

	case registry.OperatorsForQuorumUpdate:
		return applyWeights(state, epoch, u.Operators, u.Weights)
	}
	return errors.Errorf("unhandled update kind %s", update.Kind())
}

func applyWeights(state *replicaState, epoch uint64, operators []common.Address, weights []*big.Int) error {
	if len(operators) != len(weights) {
		return errors.New("operators and weights length mismatch")
	}
	for i, operator := range operators {
		rec := state.Operators[operator]
		if rec == nil {
			return errors.Wrapf(ErrUnknownOperator, "operator %s", operator)
		}
		previous := new(big.Int)
		if latest, ok := rec.Weights.Latest(); ok {
			previous = latest.Value
		}
		if err := rec.Weights.Push(epoch, weights[i]); err != nil {
			return err
		}
		if err := bumpTotal(state, epoch, new(big.Int).Sub(weights[i], previous)); err != nil {
			return err
		}
	}
	return nil
}

func bumpTotal(state *replicaState, epoch uint64, delta *big.Int) error {
	total := new(big.Int)
	if latest, ok := state.TotalWeight.Latest(); ok {
		total.Set(latest.Value)
	}
	total.Add(total, delta)
	return state.TotalWeight.Push(epoch, total)
}
