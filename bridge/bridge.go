// Package bridge defines the message-bridge transport boundary. The
// transport itself is an external collaborator: reliable but unordered, with
// prepaid fees and receiver-side route allow-listing.
package bridge

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// MessageID identifies a bridged message for deduplication.
type MessageID = [32]byte

var (
	ErrInsufficientFee = errors.New("supplied fee is below the bridge quote")
	ErrRouteNotAllowed = errors.New("route is not allow-listed")
)

// Sender is the outbound side of the bridge on one chain.
type Sender interface {
	// Send forwards the message to the receiver contract on the remote
	// chain. The fee must cover the bridge quote.
	Send(ctx context.Context, receiver common.Address, gasLimit uint64, message []byte, fee *big.Int) (MessageID, error)

	// EstimateFee quotes the fee for sending the message.
	EstimateFee(ctx context.Context, receiver common.Address, gasLimit uint64, message []byte) (*big.Int, error)
}

// Handler is the inbound side of the bridge on one chain.
type Handler interface {
	// HandleMessage delivers a bridged message. Returning an error rejects
	// the message; the bridge may redeliver it later.
	HandleMessage(ctx context.Context, from common.Address, message []byte, id MessageID) error
}
