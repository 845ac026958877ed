package networkconfig

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var Mainnet = NetworkConfig{
	Name:          "mainnet",
	GenesisHeight: 19_426_587,
	EpochLength:   45_000,
	GracePeriod:   6_400,

	ChallengePeriod: 7_200,
	ChallengeBond:   new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)), // 1 ether
	SlashWad:        big.NewInt(1e17),                                  // 10%
	SlashableStrategies: []common.Address{
		common.HexToAddress("0x93c4b944D05dfe6df7645A86cd2206016c51564D"), // stETH strategy
		common.HexToAddress("0x54945180dB7943c0ed0FEE7EdaB2Bd24620256bc"), // cbETH strategy
	},

	AuthorizedSender: common.HexToAddress("0x2F34a0Ae0e4bD4dD57A5cbCA1f08D65D118D9f3C"),
	ReplicaReceivers: map[uint32]common.Address{
		42161: common.HexToAddress("0x8D1b3Bb3a1a8F9Ea9eC10b771F4e1dBbE3b9b6D1"), // arbitrum
		8453:  common.HexToAddress("0xA43fD14F3c16C7e93Bf2eE6C1bC3aB6C4a2cD4E7"), // base
	},
	AuthorizedProvers: map[uint32]common.Address{
		42161: common.HexToAddress("0x5b4E00a2cE1C68C4dE84bC5A6F1e8aD3aB28F0b9"),
		8453:  common.HexToAddress("0x1cD0aB5dAC9b2F4a8E63bF0DdA1eC4b96fA07A44"),
	},

	SyncGasLimit: 500_000,
}
