package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/norsh/blockchain/app/services/worker/handlers"
	"github.com/norsh/blockchain/business/core/balance"
	"github.com/norsh/blockchain/business/core/block"
	"github.com/norsh/blockchain/business/core/element"
	"github.com/norsh/blockchain/business/core/miner"
	"github.com/norsh/blockchain/business/core/transaction"
	"github.com/norsh/blockchain/business/queue/consumer"
	"github.com/norsh/blockchain/business/queue/dispatch"
	"github.com/norsh/blockchain/business/sys/cache"
	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/foundation/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using linker build flags.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("WORKER")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Defaults struct {
			SemaphoreLockTimeout time.Duration `conf:"default:30s"`
			ThreadInitialBackoff time.Duration `conf:"default:20ms"`
			ThreadMaxBackoff     time.Duration `conf:"default:2s"`
			MessagingTTL         time.Duration `conf:"default:10m"`
			QueueConsumerPool    int           `conf:"default:20"`
			BalanceSeedAmount    string        `conf:"default:0"`
			DeductTaxFromSender  bool          `conf:"default:false"`
		}
		NetworkPolicy struct {
			NetworkTax   string `conf:"default:0.3"`
			MiningReward string `conf:"default:0"`
		}
		Genesis struct {
			PublicKey    string `conf:"noprint"`
			PrivateKey   string `conf:"mask"`
			NshTFO       string
			ProxyAddress string
		}
		Mongo struct {
			URI            string        `conf:"default:mongodb://localhost:27017,mask"`
			Database       string        `conf:"default:norsh"`
			ConnectTimeout time.Duration `conf:"default:5s"`
		}
		Redis struct {
			URL string `conf:"default:redis://localhost:6379/0,mask"`
		}
		Queue struct {
			Stream       string        `conf:"default:norsh.blockchain.requests"`
			Group        string        `conf:"default:blockchain-workers"`
			DrainTimeout time.Duration `conf:"default:5s"`
		}
		Web struct {
			DebugHost string `conf:"default:0.0.0.0:7080"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "Norsh ledger write-side worker",
		},
	}

	const prefix = "WORKER"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	balanceSeed, err := decimal.NewFromString(cfg.Defaults.BalanceSeedAmount)
	if err != nil {
		return fmt.Errorf("parsing balance seed amount: %w", err)
	}

	networkTax, err := decimal.NewFromString(cfg.NetworkPolicy.NetworkTax)
	if err != nil {
		return fmt.Errorf("parsing network tax: %w", err)
	}

	miningReward, err := decimal.NewFromString(cfg.NetworkPolicy.MiningReward)
	if err != nil {
		return fmt.Errorf("parsing mining reward: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	ctx := context.Background()

	// =========================================================================
	// Store and Cache Support

	log.Infow("startup", "status", "connecting to mongo", "database", cfg.Mongo.Database)

	mongoClient, err := database.Open(ctx, database.MongoConfig{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening mongo: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "closing mongo")
		mongoClient.Disconnect(ctx)
	}()

	db := database.NewMongo(mongoClient, cfg.Mongo.Database)

	log.Infow("startup", "status", "connecting to redis")

	redisClient, err := cache.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("opening redis: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "closing redis")
		redisClient.Close()
	}()

	responseCache := cache.NewRedis(redisClient)

	// =========================================================================
	// Ledger Core Support

	locks := lock.New(lock.Config{
		Log:            log,
		Cache:          responseCache,
		TTL:            cfg.Defaults.SemaphoreLockTimeout,
		InitialBackoff: cfg.Defaults.ThreadInitialBackoff,
		MaxBackoff:     cfg.Defaults.ThreadMaxBackoff,
	})

	sequences := sequence.NewStore(log, db)
	balances := balance.NewCore(log, db, balanceSeed)

	elements := element.NewCore(element.Config{
		Log:       log,
		DB:        db,
		Lock:      locks,
		Sequences: sequences,
	})

	blocks := block.NewCore(block.Config{
		Log:            log,
		DB:             db,
		Lock:           locks,
		Sequences:      sequences,
		InitialBackoff: cfg.Defaults.ThreadInitialBackoff,
		MaxBackoff:     cfg.Defaults.ThreadMaxBackoff,
		MaxWait:        cfg.Defaults.SemaphoreLockTimeout,
	})

	transactions := transaction.NewCore(transaction.Config{
		Log:        log,
		DB:         db,
		Lock:       locks,
		Sequences:  sequences,
		Balances:   balances,
		Blocks:     blocks,
		Elements:   elements,
		NetworkTax: networkTax,
		DeductTax:  cfg.Defaults.DeductTaxFromSender,
	})

	// The reward hook credits a verified miner with a REWARD transaction on
	// the native coin. A zero reward disables the credit.
	reward := func(ctx context.Context, minerAddr string, blk block.Block) error {
		if miningReward.IsZero() {
			return nil
		}

		coin, err := elements.Coin(ctx)
		if err != nil {
			return err
		}

		_, err = transactions.CreateInternal(ctx, transaction.TypeReward, coin.Owner, minerAddr, coin.ID, miningReward, blk.ID)
		return err
	}

	miners := miner.NewCore(miner.Config{
		Log:    log,
		DB:     db,
		Lock:   locks,
		Blocks: blocks,
		Reward: reward,
	})

	// =========================================================================
	// Bootstrap

	if err := elements.Bootstrap(ctx, element.Genesis{
		PublicKey:    cfg.Genesis.PublicKey,
		PrivateKey:   cfg.Genesis.PrivateKey,
		NshTFO:       cfg.Genesis.NshTFO,
		ProxyAddress: cfg.Genesis.ProxyAddress,
	}); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	// =========================================================================
	// Dispatcher and Queue Consumer

	dispatcher := dispatch.New(dispatch.Config{
		Log:   log,
		Cache: responseCache,
		TTL:   cfg.Defaults.MessagingTTL,
	})

	handlers.New(handlers.Config{
		Log:          log,
		Elements:     elements,
		Transactions: transactions,
		Miners:       miners,
	}).Register(dispatcher)

	queue := consumer.New(consumer.Config{
		Log:          log,
		Client:       redisClient,
		Dispatcher:   dispatcher,
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		Pool:         cfg.Defaults.QueueConsumerPool,
		DrainTimeout: cfg.Queue.DrainTimeout,
	})

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log)

	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdown

	log.Infow("shutdown", "status", "shutdown started", "signal", sig)
	defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

	queue.Shutdown()

	return nil
}
