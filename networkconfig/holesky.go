package networkconfig

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var Holesky = NetworkConfig{
	Name:          "holesky",
	GenesisHeight: 1_168_400,
	EpochLength:   45_000,
	GracePeriod:   6_400,

	ChallengePeriod: 7_200,
	ChallengeBond:   new(big.Int).Mul(big.NewInt(1), big.NewInt(1e17)), // 0.1 ether
	SlashWad:        big.NewInt(1e17),
	SlashableStrategies: []common.Address{
		common.HexToAddress("0x7D704507b76571a51d9caE8AdDAbBFd0ba0e63d3"), // stETH strategy
	},

	AuthorizedSender: common.HexToAddress("0x38A1b5eA9Ab1D78Ecd7a917DCb6AA0c3ac094b13"),
	ReplicaReceivers: map[uint32]common.Address{
		421614: common.HexToAddress("0x9Cc0A6F0218BA1BB4cd54e00a2ec2b6F5Cbb3F07"), // arbitrum sepolia
	},
	AuthorizedProvers: map[uint32]common.Address{
		421614: common.HexToAddress("0xEcF0496DE0a2cdb3dE72F91cb1B0E64C0F1F55a6"),
	},

	SyncGasLimit: 500_000,
}
