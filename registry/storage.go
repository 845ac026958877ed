package registry

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/statelayer/statelayer/storage/basedb"
)

type storedConfig struct {
	Quorum    Quorum   `json:"quorum"`
	MinWeight *big.Int `json:"minWeight"`
}

type updateEnvelope struct {
	Kind    UpdateKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// buildOperatorKey builds an operator record key, e.g. "operators/0xabc...".
func buildOperatorKey(operator common.Address) []byte {
	return bytes.Join([][]byte{operatorsPrefix, []byte(operator.Hex())}, []byte("/"))
}

// buildPendingKey builds a pending-queue key, e.g. "pending/7".
func buildPendingKey(e uint64) []byte {
	return bytes.Join([][]byte{pendingPrefix, []byte(strconv.FormatUint(e, 10))}, []byte("/"))
}

func (s *Store) saveOperator(operator common.Address, rec *OperatorRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not marshal operator record")
	}
	return s.db.Set(storagePrefix, buildOperatorKey(operator), raw)
}

func (s *Store) saveGlobals() error {
	cfg, err := json.Marshal(storedConfig{Quorum: s.quorum, MinWeight: s.minWeight})
	if err != nil {
		return errors.Wrap(err, "could not marshal registry config")
	}
	threshold, err := json.Marshal(s.threshold)
	if err != nil {
		return errors.Wrap(err, "could not marshal threshold history")
	}
	totalWeight, err := json.Marshal(s.totalWeight)
	if err != nil {
		return errors.Wrap(err, "could not marshal total weight history")
	}

	txn := s.db.Begin()
	defer txn.Discard()

	if err := txn.Set(storagePrefix, configKey, cfg); err != nil {
		return err
	}
	if err := txn.Set(storagePrefix, thresholdKey, threshold); err != nil {
		return err
	}
	if err := txn.Set(storagePrefix, totalWeightKey, totalWeight); err != nil {
		return err
	}
	for e, updates := range s.pending {
		raw, err := marshalUpdates(updates)
		if err != nil {
			return err
		}
		if err := txn.Set(storagePrefix, buildPendingKey(e), raw); err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (s *Store) load() error {
	obj, found, err := s.db.Get(storagePrefix, configKey)
	if err != nil {
		return err
	}
	if found {
		var cfg storedConfig
		if err := json.Unmarshal(obj.Value, &cfg); err != nil {
			return errors.Wrap(err, "could not unmarshal registry config")
		}
		s.quorum = cfg.Quorum
		if cfg.MinWeight != nil {
			s.minWeight = cfg.MinWeight
		}
	}

	obj, found, err = s.db.Get(storagePrefix, thresholdKey)
	if err != nil {
		return err
	}
	if found {
		if err := json.Unmarshal(obj.Value, s.threshold); err != nil {
			return errors.Wrap(err, "could not unmarshal threshold history")
		}
	}

	obj, found, err = s.db.Get(storagePrefix, totalWeightKey)
	if err != nil {
		return err
	}
	if found {
		if err := json.Unmarshal(obj.Value, s.totalWeight); err != nil {
			return errors.Wrap(err, "could not unmarshal total weight history")
		}
	}

	prefix := append(append([]byte{}, storagePrefix...), operatorsPrefix...)
	err = s.db.GetAll(prefix, func(_ int, obj basedb.Obj) error {
		// Keys are "/<address>" after the prefix strip.
		addr := common.HexToAddress(string(bytes.TrimPrefix(obj.Key, []byte("/"))))
		rec := newOperatorRecord()
		if err := json.Unmarshal(obj.Value, rec); err != nil {
			return errors.Wrap(err, "could not unmarshal operator record")
		}
		s.operators[addr] = rec
		if latest, ok := rec.SigningKeys.Latest(); ok && rec.Registered() {
			s.keyOwners[latest.Value] = addr
		}
		return nil
	})
	if err != nil {
		return err
	}

	prefix = append(append([]byte{}, storagePrefix...), pendingPrefix...)
	return s.db.GetAll(prefix, func(_ int, obj basedb.Obj) error {
		e, err := strconv.ParseUint(string(bytes.TrimPrefix(obj.Key, []byte("/"))), 10, 64)
		if err != nil {
			return errors.Wrap(err, "could not parse pending epoch key")
		}
		updates, err := unmarshalUpdates(obj.Value)
		if err != nil {
			return err
		}
		s.pending[e] = updates
		return nil
	})
}

func marshalUpdates(updates []StateUpdate) ([]byte, error) {
	envelopes := make([]updateEnvelope, len(updates))
	for i, u := range updates {
		payload, err := json.Marshal(u)
		if err != nil {
			return nil, errors.Wrapf(err, "could not marshal %s update", u.Kind())
		}
		envelopes[i] = updateEnvelope{Kind: u.Kind(), Payload: payload}
	}
	return json.Marshal(envelopes)
}

func unmarshalUpdates(data []byte) ([]StateUpdate, error) {
	var envelopes []updateEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal update envelopes")
	}
	updates := make([]StateUpdate, len(envelopes))
	for i, env := range envelopes {
		update, err := decodeEnvelope(env)
		if err != nil {
			return nil, err
		}
		updates[i] = update
	}
	return updates, nil
}

func decodeEnvelope(env updateEnvelope) (StateUpdate, error) {
	var (
		update StateUpdate
		err    error
	)
	switch env.Kind {
	case KindRegister:
		var u RegisterUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindDeregister:
		var u DeregisterUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindUpdateSigningKey:
		var u SigningKeyUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindUpdateOperators:
		var u OperatorsUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindUpdateQuorum:
		var u QuorumUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindUpdateMinWeight:
		var u MinWeightUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindUpdateThreshold:
		var u ThresholdUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	case KindUpdateOperatorsForQuorum:
		var u OperatorsForQuorumUpdate
		err = json.Unmarshal(env.Payload, &u)
		update = u
	default:
		return nil, errors.Errorf("unknown update kind %d", env.Kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal %s update", env.Kind)
	}
	return update, nil
}
