package networkconfig

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LocalTestnet keeps epochs short so the full register/sync/challenge cycle
// fits in a development session. The bridge runs in-process.
var LocalTestnet = NetworkConfig{
	Name:          "local-testnet",
	GenesisHeight: 0,
	EpochLength:   100,
	GracePeriod:   10,

	ChallengePeriod: 20,
	ChallengeBond:   big.NewInt(1_000),
	SlashWad:        big.NewInt(1e17),
	SlashableStrategies: []common.Address{
		common.HexToAddress("0x1000000000000000000000000000000000000001"),
	},

	AuthorizedSender: common.HexToAddress("0xcc00000000000000000000000000000000000001"),
	ReplicaReceivers: map[uint32]common.Address{
		1337: common.HexToAddress("0xcc00000000000000000000000000000000000002"),
	},
	AuthorizedProvers: map[uint32]common.Address{
		1337: common.HexToAddress("0xcc00000000000000000000000000000000000003"),
	},

	SyncGasLimit: 500_000,
}
