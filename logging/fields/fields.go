package fields

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FieldAddress     = "address"
	FieldBlock       = "block"
	FieldChainID     = "chain_id"
	FieldChallengeID = "challenge_id"
	FieldCount       = "count"
	FieldEpoch       = "epoch"
	FieldHeight      = "height"
	FieldMessageID   = "msg_id"
	FieldName        = "name"
	FieldOperator    = "operator"
	FieldOperators   = "operators"
	FieldSigningKey  = "signing_key"
	FieldTook        = "took"
	FieldUpdateType  = "update_type"
	FieldWeight      = "weight"
)

func Address(val common.Address) zapcore.Field {
	return zap.Stringer(FieldAddress, val)
}

func BlockNumber(val uint64) zapcore.Field {
	return zap.Uint64(FieldBlock, val)
}

func ChainID(val uint32) zapcore.Field {
	return zap.Uint32(FieldChainID, val)
}

func ChallengeID(val common.Hash) zapcore.Field {
	return zap.Stringer(FieldChallengeID, val)
}

func Count(val int) zapcore.Field {
	return zap.Int(FieldCount, val)
}

func Epoch(val uint64) zapcore.Field {
	return zap.Uint64(FieldEpoch, val)
}

func Height(val uint64) zapcore.Field {
	return zap.Uint64(FieldHeight, val)
}

func MessageID(val [32]byte) zapcore.Field {
	return zap.Stringer(FieldMessageID, common.Hash(val))
}

func Name(val string) zapcore.Field {
	return zap.String(FieldName, val)
}

func Operator(val common.Address) zapcore.Field {
	return zap.Stringer(FieldOperator, val)
}

func Operators(vals []common.Address) zapcore.Field {
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = v.Hex()
	}
	return zap.Strings(FieldOperators, strs)
}

func SigningKey(val common.Address) zapcore.Field {
	return zap.Stringer(FieldSigningKey, val)
}

func Took(val time.Duration) zapcore.Field {
	return zap.Duration(FieldTook, val)
}

func UpdateType(val string) zapcore.Field {
	return zap.String(FieldUpdateType, val)
}
