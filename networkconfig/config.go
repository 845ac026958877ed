// Package networkconfig holds the per-network parameter profiles: epoch
// geometry, dispute economics, and the addresses wired into the sync and
// verification pipelines.
package networkconfig

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statelayer/statelayer/dispute"
	"github.com/statelayer/statelayer/epoch"
)

type NetworkConfig struct {
	Name string

	// Epoch geometry of the canonical chain.
	GenesisHeight uint64
	EpochLength   uint64
	GracePeriod   uint64

	// Dispute economics.
	ChallengePeriod     uint64
	ChallengeBond       *big.Int
	SlashWad            *big.Int
	SlashableStrategies []common.Address

	// Cross-chain wiring: the canonical sender address replicas trust, the
	// replica receiver contract per destination chain, and the authorized
	// prover per asserting chain.
	AuthorizedSender  common.Address
	ReplicaReceivers  map[uint32]common.Address
	AuthorizedProvers map[uint32]common.Address

	SyncGasLimit uint64
}

func (n NetworkConfig) String() string {
	return n.Name
}

func (n NetworkConfig) EpochConfig() epoch.Config {
	return epoch.Config{
		GenesisHeight: n.GenesisHeight,
		EpochLength:   n.EpochLength,
		GracePeriod:   n.GracePeriod,
	}
}

func (n NetworkConfig) DisputeConfig() dispute.Config {
	return dispute.Config{
		ChallengePeriod:     n.ChallengePeriod,
		ChallengeBond:       n.ChallengeBond,
		SlashWad:            n.SlashWad,
		SlashableStrategies: n.SlashableStrategies,
	}
}

var SupportedConfigs = map[string]NetworkConfig{
	Mainnet.Name:      Mainnet,
	Holesky.Name:      Holesky,
	LocalTestnet.Name: LocalTestnet,
}

func GetNetworkConfigByName(name string) (NetworkConfig, error) {
	if network, ok := SupportedConfigs[name]; ok {
		return network, nil
	}
	return NetworkConfig{}, fmt.Errorf("network not supported: %v", name)
}
