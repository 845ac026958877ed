package node

import (
	"fmt"
	"log"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statelayer/statelayer/bridge/inproc"
	globalconfig "github.com/statelayer/statelayer/cli/config"
	"github.com/statelayer/statelayer/epoch"
	"github.com/statelayer/statelayer/eth"
	"github.com/statelayer/statelayer/logging"
	"github.com/statelayer/statelayer/logging/fields"
	"github.com/statelayer/statelayer/networkconfig"
	"github.com/statelayer/statelayer/node"
	"github.com/statelayer/statelayer/registry"
	"github.com/statelayer/statelayer/storage/basedb"
	"github.com/statelayer/statelayer/storage/kv"
	"github.com/statelayer/statelayer/syncer"
)

type contractsConfig struct {
	Delegation    string `yaml:"Delegation" env:"DELEGATION_ADDR" env-description:"Delegation manager contract address"`
	Allocation    string `yaml:"Allocation" env:"ALLOCATION_ADDR" env-description:"Allocation manager contract address"`
	Directory     string `yaml:"Directory" env:"DIRECTORY_ADDR" env-description:"AVS directory contract address"`
	AVS           string `yaml:"AVS" env:"AVS_ADDR" env-description:"This service's AVS address"`
	OperatorSetID uint32 `yaml:"OperatorSetID" env:"OPERATOR_SET_ID" env-default:"0" env-description:"Operator set id within the AVS"`
}

type config struct {
	globalconfig.GlobalConfig `yaml:"global"`
	DBOptions                 basedb.Options       `yaml:"db"`
	NodeOptions               node.Options         `yaml:"node"`
	SenderOptions             syncer.SenderOptions `yaml:"sync"`
	Contracts                 contractsConfig      `yaml:"contracts"`

	Network      string        `yaml:"Network" env:"NETWORK" env-default:"mainnet" env-description:"Network profile to run on"`
	EthNodeAddr  string        `yaml:"EthNodeAddr" env:"ETH_NODE_ADDR" env-description:"Execution client RPC endpoint"`
	PollInterval time.Duration `yaml:"PollInterval" env:"POLL_INTERVAL" env-default:"6s" env-description:"Chain height poll interval"`

	QuorumStrategies  []string `yaml:"QuorumStrategies" env:"QUORUM_STRATEGIES" env-description:"Quorum strategy addresses"`
	QuorumMultipliers []uint64 `yaml:"QuorumMultipliers" env:"QUORUM_MULTIPLIERS" env-description:"Quorum multipliers in basis points, paired with the strategies"`
}

var cfg config

var globalArgs globalconfig.Args

// StartNodeCmd starts a statelayer node on the canonical chain.
var StartNodeCmd = &cobra.Command{
	Use:   "start-node",
	Short: "Starts an instance of the statelayer node",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cleanenv.ReadConfig(globalArgs.ConfigPath, &cfg); err != nil {
			log.Fatalf("could not read config: %v", err)
		}
		if err := logging.SetGlobalLogger(cfg.LogLevel, cfg.LogLevelFormat, cfg.LogFilePath); err != nil {
			log.Fatalf("could not create logger: %v", err)
		}
		logger := zap.L().Named("node")

		network, err := networkconfig.GetNetworkConfigByName(cfg.Network)
		if err != nil {
			logger.Fatal("could not setup network", zap.Error(err))
		}
		logger.Info("starting", fields.Name(network.Name))

		cfg.DBOptions.Ctx = cmd.Context()
		db, err := kv.New(logger, cfg.DBOptions)
		if err != nil {
			logger.Fatal("could not setup db", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("could not close db", zap.Error(err))
			}
		}()

		n, err := buildNode(cmd, logger, network, db)
		if err != nil {
			logger.Fatal("could not build node", zap.Error(err))
		}
		if err := n.Start(cmd.Context()); err != nil {
			logger.Fatal("node stopped", zap.Error(err))
		}
	},
}

func buildNode(cmd *cobra.Command, logger *zap.Logger, network networkconfig.NetworkConfig, db basedb.Database) (*node.Node, error) {
	client, err := ethclient.DialContext(cmd.Context(), cfg.EthNodeAddr)
	if err != nil {
		return nil, errors.Wrap(err, "could not dial execution client")
	}
	heights := epoch.NewChainHeightSource(logger, client, cfg.PollInterval)

	clock, err := epoch.NewClock(network.EpochConfig(), heights)
	if err != nil {
		return nil, errors.Wrap(err, "could not create epoch clock")
	}

	quorum, err := buildQuorum()
	if err != nil {
		return nil, err
	}

	avs := ethcommon.HexToAddress(cfg.Contracts.AVS)
	store, err := registry.NewStore(logger, db, clock,
		eth.NewDelegationCaller(client, ethcommon.HexToAddress(cfg.Contracts.Delegation)),
		eth.NewAllocationCaller(client, ethcommon.HexToAddress(cfg.Contracts.Allocation), avs, cfg.Contracts.OperatorSetID),
		eth.NewDirectoryCaller(client, ethcommon.HexToAddress(cfg.Contracts.Directory), avs),
		quorum,
	)
	if err != nil {
		return nil, errors.Wrap(err, "could not create checkpoint store")
	}

	routes, err := buildRoutes(cmd, logger, network)
	if err != nil {
		return nil, err
	}
	sender := syncer.NewSender(logger, store, routes, cfg.SenderOptions)

	return node.New(logger, clock, sender, heights, cfg.NodeOptions), nil
}

func buildQuorum() (registry.Quorum, error) {
	if len(cfg.QuorumStrategies) != len(cfg.QuorumMultipliers) {
		return registry.Quorum{}, errors.New("quorum strategies and multipliers must pair up")
	}
	quorum := registry.Quorum{Strategies: make([]registry.StrategyParams, len(cfg.QuorumStrategies))}
	for i, strategy := range cfg.QuorumStrategies {
		quorum.Strategies[i] = registry.StrategyParams{
			Strategy:   ethcommon.HexToAddress(strategy),
			Multiplier: cfg.QuorumMultipliers[i],
		}
	}
	if err := quorum.Validate(); err != nil {
		return registry.Quorum{}, errors.Wrap(err, "invalid quorum configuration")
	}
	return quorum, nil
}

// buildRoutes wires the destination chains. The local testnet profile runs
// its replicas in-process over the loopback bus; real networks need an
// external bridge relayer, which is not part of this node.
func buildRoutes(cmd *cobra.Command, logger *zap.Logger, network networkconfig.NetworkConfig) ([]syncer.Route, error) {
	if network.Name != networkconfig.LocalTestnet.Name {
		return nil, fmt.Errorf("network %s requires an external bridge relayer", network.Name)
	}

	bus := inproc.NewBus(logger)
	endpoint := bus.Endpoint(network.AuthorizedSender)

	routes := make([]syncer.Route, 0, len(network.ReplicaReceivers))
	for chainID, receiver := range network.ReplicaReceivers {
		replicaDB, err := kv.NewInMemory(logger, basedb.Options{Ctx: cmd.Context()})
		if err != nil {
			return nil, errors.Wrap(err, "could not create replica db")
		}
		replica, err := syncer.NewReplica(logger, replicaDB)
		if err != nil {
			return nil, errors.Wrap(err, "could not create replica")
		}
		bus.Register(receiver, syncer.NewReceiver(logger, replicaDB, replica, network.AuthorizedSender))
		routes = append(routes, syncer.Route{ChainID: chainID, Bridge: endpoint, Receiver: receiver})
	}
	return routes, nil
}

func init() {
	globalconfig.ProcessArgs(&cfg, &globalArgs, StartNodeCmd)
}
