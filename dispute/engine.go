package dispute

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/epoch"
	"github.com/statelayer/statelayer/logging/fields"
	"github.com/statelayer/statelayer/storage/basedb"
)

var (
	ErrInsufficientBond      = errors.New("bond is below the challenge bond")
	ErrNoOperators           = errors.New("no operators named")
	ErrLengthMismatch        = errors.New("operators and signatures length mismatch")
	ErrDuplicateOperator     = errors.New("duplicate operator named")
	ErrInvalidSignature      = errors.New("signature does not match the paired operator")
	ErrAlreadyChallenged     = errors.New("tuple already has an open challenge")
	ErrChallengeNotFound     = errors.New("challenge not found")
	ErrAlreadyResolved       = errors.New("challenge already resolved")
	ErrChallengePeriodActive = errors.New("challenge period active")
	ErrStateNotVerified      = errors.New("state not verified")
)

var (
	challengesPrefix = []byte("dispute/challenges/")
	verifiedPrefix   = []byte("dispute/verified/")
)

// Challenge is one bonded dispute over a state claim. It transitions from
// open to resolved exactly once.
type Challenge struct {
	ID         common.Hash      `json:"id"`
	Challenger common.Address   `json:"challenger"`
	Bond       *big.Int         `json:"bond"`
	Deadline   uint64           `json:"deadline"`
	Resolved   bool             `json:"resolved"`
	Claimed    StateClaim       `json:"claimed"`
	Operators  []common.Address `json:"operators"`

	// Filled in on resolution from the verified-state record.
	ActualValue  *big.Int `json:"actualValue,omitempty"`
	ActualExists bool     `json:"actualExists"`
}

// VerifiedState is the asserting chain's answer for one disputed tuple.
type VerifiedState struct {
	ChainID     uint32         `json:"chainId"`
	User        common.Address `json:"user"`
	Key         *big.Int       `json:"key"`
	BlockNumber uint64         `json:"blockNumber"`
	Value       *big.Int       `json:"value"`
	Exists      bool           `json:"exists"`
}

// SlashParams names one operator to slash and the per-strategy WAD fractions
// to take.
type SlashParams struct {
	Operator    common.Address
	Strategies  []common.Address
	WadsToSlash []*big.Int
	Description string
}

// Slasher is the external slashing entry point.
type Slasher interface {
	SlashOperator(ctx context.Context, params SlashParams) error
}

// BondVault holds challenge bonds: refunded to the challenger on a proven
// misattestation, forfeited to the treasury otherwise.
type BondVault interface {
	Refund(ctx context.Context, to common.Address, amount *big.Int) error
	Forfeit(ctx context.Context, amount *big.Int) error
}

// Config carries the dispute parameters of a network profile.
type Config struct {
	ChallengePeriod     uint64
	ChallengeBond       *big.Int
	SlashWad            *big.Int
	SlashableStrategies []common.Address
}

// Engine is the challenge and slashing state machine.
type Engine struct {
	logger  *zap.Logger
	db      basedb.Database
	height  epoch.HeightProvider
	slasher Slasher
	vault   BondVault
	cfg     Config
	metrics *engineMetrics

	mu         sync.Mutex
	challenges map[common.Hash]*Challenge
	verified   map[common.Hash]VerifiedState
}

func NewEngine(logger *zap.Logger, db basedb.Database, height epoch.HeightProvider, slasher Slasher, vault BondVault, cfg Config) (*Engine, error) {
	e := &Engine{
		logger:     logger,
		db:         db,
		height:     height,
		slasher:    slasher,
		vault:      vault,
		cfg:        cfg,
		metrics:    newEngineMetrics(),
		challenges: make(map[common.Hash]*Challenge),
		verified:   make(map[common.Hash]VerifiedState),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// SubmitChallenge opens a bonded challenge against a signed state claim. The
// signatures must be the operators' attestation signatures over the claim's
// typed hash; they prove the named operators actually signed the disputed
// value.
func (e *Engine) SubmitChallenge(
	ctx context.Context,
	claim StateClaim,
	operators []common.Address,
	signatures [][]byte,
	bond *big.Int,
	challenger common.Address,
) (common.Hash, error) {
	if bond == nil || bond.Cmp(e.cfg.ChallengeBond) < 0 {
		return common.Hash{}, ErrInsufficientBond
	}
	if len(operators) == 0 {
		return common.Hash{}, ErrNoOperators
	}
	if len(operators) != len(signatures) {
		return common.Hash{}, ErrLengthMismatch
	}

	digest, err := claim.TypedHash()
	if err != nil {
		return common.Hash{}, err
	}
	seen := make(map[common.Address]struct{}, len(operators))
	for i, operator := range operators {
		if _, dup := seen[operator]; dup {
			return common.Hash{}, errors.Wrapf(ErrDuplicateOperator, "operator %s", operator)
		}
		seen[operator] = struct{}{}

		signer, err := recoverSigner(digest, signatures[i])
		if err != nil {
			return common.Hash{}, errors.Wrapf(ErrInvalidSignature, "operator %s: %v", operator, err)
		}
		if signer != operator {
			return common.Hash{}, errors.Wrapf(ErrInvalidSignature, "operator %s, recovered %s", operator, signer)
		}
	}

	id := claim.ChallengeID()

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.challenges[id]; ok && !existing.Resolved {
		return common.Hash{}, errors.Wrapf(ErrAlreadyChallenged, "challenge %s", id)
	}

	challenge := &Challenge{
		ID:         id,
		Challenger: challenger,
		Bond:       new(big.Int).Set(bond),
		Deadline:   e.height.Height() + e.cfg.ChallengePeriod,
		Claimed:    claim,
		Operators:  append([]common.Address{}, operators...),
	}
	if err := e.saveChallenge(challenge); err != nil {
		return common.Hash{}, err
	}
	e.challenges[id] = challenge
	e.metrics.open.Inc()

	e.logger.Info("challenge submitted",
		fields.ChallengeID(id),
		fields.Address(challenger),
		fields.Operators(operators),
		fields.Height(challenge.Deadline))
	return id, nil
}

// ResolveChallenge closes a challenge once its period elapsed. A verified
// value differing from the claimed one slashes every named operator and
// refunds the bond; a matching value forfeits the bond.
func (e *Engine) ResolveChallenge(ctx context.Context, id common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	challenge, ok := e.challenges[id]
	if !ok {
		return errors.Wrapf(ErrChallengeNotFound, "challenge %s", id)
	}
	if challenge.Resolved {
		return errors.Wrapf(ErrAlreadyResolved, "challenge %s", id)
	}
	if e.height.Height() <= challenge.Deadline {
		return errors.Wrapf(ErrChallengePeriodActive, "deadline %d", challenge.Deadline)
	}

	state, ok := e.verified[id]
	if !ok {
		return errors.Wrapf(ErrStateNotVerified, "challenge %s", id)
	}

	misattested := !state.Exists || state.Value.Cmp(challenge.Claimed.Value) != 0
	if misattested {
		for _, operator := range challenge.Operators {
			if err := e.slashOperator(ctx, operator); err != nil {
				return errors.Wrapf(err, "could not slash operator %s", operator)
			}
		}
		if err := e.vault.Refund(ctx, challenge.Challenger, challenge.Bond); err != nil {
			return errors.Wrap(err, "could not refund bond")
		}
	} else {
		if err := e.vault.Forfeit(ctx, challenge.Bond); err != nil {
			return errors.Wrap(err, "could not forfeit bond")
		}
	}

	challenge.Resolved = true
	challenge.ActualValue = state.Value
	challenge.ActualExists = state.Exists
	if err := e.saveChallenge(challenge); err != nil {
		return err
	}
	e.metrics.open.Dec()
	e.metrics.resolved.WithLabelValues(outcomeLabel(misattested)).Inc()

	e.logger.Info("challenge resolved",
		fields.ChallengeID(id),
		zap.Bool("misattested", misattested))
	return nil
}

// Challenge returns the stored challenge, if any.
func (e *Engine) Challenge(id common.Hash) (Challenge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	challenge, ok := e.challenges[id]
	if !ok {
		return Challenge{}, false
	}
	return *challenge, true
}

// RecordVerifiedState stores the asserting chain's answer for a tuple,
// overwriting any prior record for that exact tuple.
func (e *Engine) RecordVerifiedState(state VerifiedState) error {
	key := tupleKey(state.User, state.ChainID, state.BlockNumber, state.Key)

	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "could not marshal verified state")
	}
	if err := e.db.Set(verifiedPrefix, key.Bytes(), raw); err != nil {
		return errors.Wrap(err, "could not save verified state")
	}
	e.verified[key] = state

	e.logger.Info("recorded verified state",
		fields.ChallengeID(key),
		fields.ChainID(state.ChainID),
		fields.BlockNumber(state.BlockNumber))
	return nil
}

// VerifiedStateFor returns the recorded verification for a tuple, if any.
func (e *Engine) VerifiedStateFor(user common.Address, chainID uint32, blockNumber uint64, key *big.Int) (VerifiedState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.verified[tupleKey(user, chainID, blockNumber, key)]
	return state, ok
}

func (e *Engine) slashOperator(ctx context.Context, operator common.Address) error {
	wads := make([]*big.Int, len(e.cfg.SlashableStrategies))
	for i := range wads {
		wads[i] = new(big.Int).Set(e.cfg.SlashWad)
	}
	return e.slasher.SlashOperator(ctx, SlashParams{
		Operator:    operator,
		Strategies:  append([]common.Address{}, e.cfg.SlashableStrategies...),
		WadsToSlash: wads,
		Description: "proven misattestation",
	})
}

func (e *Engine) saveChallenge(challenge *Challenge) error {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return errors.Wrap(err, "could not marshal challenge")
	}
	return e.db.Set(challengesPrefix, challenge.ID.Bytes(), raw)
}

func (e *Engine) load() error {
	err := e.db.GetAll(challengesPrefix, func(_ int, obj basedb.Obj) error {
		var challenge Challenge
		if err := json.Unmarshal(obj.Value, &challenge); err != nil {
			return errors.Wrap(err, "could not unmarshal challenge")
		}
		e.challenges[challenge.ID] = &challenge
		if !challenge.Resolved {
			e.metrics.open.Inc()
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "could not load challenges")
	}
	err = e.db.GetAll(verifiedPrefix, func(_ int, obj basedb.Obj) error {
		var state VerifiedState
		if err := json.Unmarshal(obj.Value, &state); err != nil {
			return errors.Wrap(err, "could not unmarshal verified state")
		}
		e.verified[tupleKey(state.User, state.ChainID, state.BlockNumber, state.Key)] = state
		return nil
	})
	return errors.Wrap(err, "could not load verified states")
}

// recoverSigner recovers the address behind a 65-byte [R||S||V] signature,
// accepting both 0/1 and legacy 27/28 recovery ids.
func recoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, errors.Errorf("signature length %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "could not recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func outcomeLabel(misattested bool) string {
	if misattested {
		return "slashed"
	}
	return "dismissed"
}
