package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"

	"github.com/solpine/sol_wallet/config"
	"github.com/solpine/sol_wallet/core/chain"
	"github.com/solpine/sol_wallet/core/coin"
	"github.com/solpine/sol_wallet/core/custody"
	"github.com/solpine/sol_wallet/core/db"
	"github.com/solpine/sol_wallet/core/dispatch"
	"github.com/solpine/sol_wallet/core/mq"
	"github.com/solpine/sol_wallet/core/redis"
	"github.com/solpine/sol_wallet/core/store"
	"github.com/solpine/sol_wallet/core/tasks"
	"github.com/solpine/sol_wallet/core/watcher"
	"github.com/solpine/sol_wallet/core/web"
	"github.com/solpine/sol_wallet/core/web/handler"
	"github.com/solpine/sol_wallet/utils/logger"
)

func main() {
	configPath := flag.String("config_path", "./", "config file")
	logicLogFile := flag.String("logic_log_file", "./log/sol_wallet.log", "logic log file")
	flag.Parse()

	//init logic logger
	logger.Init(logger.Options{File: *logicLogFile})

	err := config.LoadConf(*configPath)
	if err != nil {
		log.Fatal("load config failed:", err)
	}

	//narrow the log level once the config is known
	logger.SetLogLevel(config.GetLogConfig().RunMode)

	if err := redis.InitRedis(); err != nil {
		log.Fatal("init redis failed:", err)
	}
	if err := mq.InitKafka(); err != nil {
		log.Fatal("init kafka failed:", err)
	}

	secretKey, err := hex.DecodeString(config.GetWalletConfig().SecretKeyHex)
	if err != nil {
		log.Fatal("bad custody secret key:", err)
	}
	cipher, err := custody.NewAEADCipher(secretKey)
	if err != nil {
		log.Fatal("init custody cipher failed:", err)
	}

	st := store.New(db.GetDB())
	ledger := chain.NewClient(config.GetFullnodeConfig())
	custodian := custody.New(st, cipher)
	deps := coin.Deps{Ledger: ledger, Store: st, Keys: custodian}

	disp := dispatch.New(int(config.GetWatcherConfig().Workers), dispatch.RedisRegistry{}, dispatch.RedisResults{})
	taskSet := tasks.New(disp, deps, custodian, st)
	taskSet.RegisterAll()

	ctx, cancel := context.WithCancel(context.Background())
	disp.Start(ctx)

	go watcher.New(ledger, st, taskSet, mq.PublishDepositEvent).Run(ctx)
	taskSet.StartBalanceRefresh(ctx)

	// blocks until SIGINT/SIGTERM
	web.Run(handler.NewWalletHandler(deps, custodian, st, taskSet, disp))

	cancel()
	disp.Wait()
}
