// Package dispute implements the challenge and slashing state machine: users
// post bonded challenges against signed state attestations, a remote
// verification round trip fetches the true value from the asserting chain,
// and resolution slashes every operator whose signature backed a wrong value.
package dispute

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

// StateClaim is the attested state tuple a challenge disputes. Operators
// sign its EIP-712 typed hash when attesting.
type StateClaim struct {
	User        common.Address `json:"user"`
	ChainID     uint32         `json:"chainId"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	Key         *big.Int       `json:"key"`
	Value       *big.Int       `json:"value"`
}

const (
	domainName    = "StateLayer"
	domainVersion = "1"
)

var claimTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
	},
	"StateClaim": {
		{Name: "user", Type: "address"},
		{Name: "chainId", Type: "uint32"},
		{Name: "blockNumber", Type: "uint64"},
		{Name: "timestamp", Type: "uint48"},
		{Name: "key", Type: "uint256"},
		{Name: "value", Type: "uint256"},
	},
}

// TypedHash returns the EIP-712 digest operators sign over the claim.
func (c StateClaim) TypedHash() (common.Hash, error) {
	data := apitypes.TypedData{
		Types:       claimTypes,
		PrimaryType: "StateClaim",
		Domain: apitypes.TypedDataDomain{
			Name:    domainName,
			Version: domainVersion,
		},
		Message: apitypes.TypedDataMessage{
			"user":        c.User.Hex(),
			"chainId":     (*math.HexOrDecimal256)(new(big.Int).SetUint64(uint64(c.ChainID))),
			"blockNumber": (*math.HexOrDecimal256)(new(big.Int).SetUint64(c.BlockNumber)),
			"timestamp":   (*math.HexOrDecimal256)(new(big.Int).SetUint64(c.Timestamp)),
			"key":         (*math.HexOrDecimal256)(c.Key),
			"value":       (*math.HexOrDecimal256)(c.Value),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "could not hash state claim")
	}
	return common.BytesToHash(digest), nil
}

// ChallengeID derives the deterministic challenge identifier from the
// disputed tuple. At most one open challenge can exist per tuple.
func (c StateClaim) ChallengeID() common.Hash {
	return tupleKey(c.User, c.ChainID, c.BlockNumber, c.Key)
}

func tupleKey(user common.Address, chainID uint32, blockNumber uint64, key *big.Int) common.Hash {
	var chainBuf [4]byte
	var blockBuf [8]byte
	chainBuf[0] = byte(chainID >> 24)
	chainBuf[1] = byte(chainID >> 16)
	chainBuf[2] = byte(chainID >> 8)
	chainBuf[3] = byte(chainID)
	for i := 0; i < 8; i++ {
		blockBuf[i] = byte(blockNumber >> (56 - 8*i))
	}
	return crypto.Keccak256Hash(user.Bytes(), chainBuf[:], blockBuf[:], common.BigToHash(key).Bytes())
}
