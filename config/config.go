package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/solpine/sol_wallet/utils/logger"
)

// one database one instance
type PostgresqlConfig struct {
	Host       string
	Port       int64
	Account    string
	Password   string
	DBName     string
	SchemaName string
}

type RedisConfig struct {
	Host         string `mapstructure:"Host"`
	DB           int64  `mapstructure:"DB"`
	Password     string `mapstructure:"Password"`
	MinIdleConns int64  `mapstructure:"MinIdleConns"`
}

type KafkaConfig struct {
	Host       string
	EventTopic string
	Protocol   string
	Username   string
	Password   string
	CAPath     string
}

type FullnodeConfig struct {
	URL            string
	TimeoutSeconds int64
	Network        string
}

// WalletConfig carries protocol limits and fee pricing knobs.
// BaseTxFee and thresholds mirror the chain defaults: the
// prioritization fee is ComputeUnitLimit * ComputeUnitPrice
// measured in micro-lamports.
type WalletConfig struct {
	BaseTxFee                 int64
	AtaAccountSize            int64
	ComputeUnitLimit          int64
	ComputeUnitPrice          int64
	MinTransferThreshold      string
	MinTokenTransferThreshold string
	MaxCoinTransfersPerTx     int64
	MaxTokenTransfersPerTx    int64
	LastBlockLocked           bool
	// SecretKeyHex is the hex-encoded 32-byte key sealing stored
	// private keys. No default; the process refuses to start without it.
	SecretKeyHex string
}

type WatcherConfig struct {
	PollSeconds       int64
	ParallelThreshold int64
	Workers           int64
	RefreshSeconds    int64
}

// GatewayConfig points at the payment gateway that consumes
// payout and wallet notifications.
type GatewayConfig struct {
	Host string
	Key  string
}

type APIConfig struct {
	Listen   string
	Username string
	Password string
}

// LogConfig drives the logic and visit log sinks. RunMode selects
// the level of the logic log; rotation knobs apply to both files.
type LogConfig struct {
	RunMode      string
	VisitLogFile string
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
}

type TokenInfo struct {
	TokenAddress string
}

// struct decode must has tag
type Config struct {
	PostgresqlConfig PostgresqlConfig                `mapstructure:"PostgresqlConfig"`
	RedisConf        RedisConfig                     `mapstructure:"RedisConfig"`
	KafkaConf        KafkaConfig                     `mapstructure:"KafkaConfig"`
	FullnodeConf     FullnodeConfig                  `mapstructure:"FullnodeConfig"`
	WalletConf       WalletConfig                    `mapstructure:"WalletConfig"`
	WatcherConf      WatcherConfig                   `mapstructure:"WatcherConfig"`
	GatewayConf      GatewayConfig                   `mapstructure:"GatewayConfig"`
	APIConf          APIConfig                       `mapstructure:"APIConfig"`
	LogConf          LogConfig                       `mapstructure:"LogConfig"`
	Tokens           map[string]map[string]TokenInfo `mapstructure:"Tokens"`
}

var (
	configMutex = sync.RWMutex{}
	config      Config

	configViper     *viper.Viper
	configFlyChange []chan bool
)

func RegistConfChange(c chan bool) {
	configFlyChange = append(configFlyChange, c)
}

func notifyConfChange() {
	for i := 0; i < len(configFlyChange); i++ {
		configFlyChange[i] <- true
	}
}

func watchConfig(c *viper.Viper) error {
	c.WatchConfig()
	cfn := func(e fsnotify.Event) {
		logger.Logrus.WithFields(logrus.Fields{"change": e.String()}).Info("config change and reload it")
		reloadConfig(c)
		notifyConfChange()
	}

	c.OnConfigChange(cfn)
	return nil
}

func setDefaults(c *viper.Viper) {
	c.SetDefault("FullnodeConfig.URL", "http://solana:8545")
	c.SetDefault("FullnodeConfig.TimeoutSeconds", 60)
	c.SetDefault("FullnodeConfig.Network", "devnet")

	c.SetDefault("WalletConfig.BaseTxFee", 5000)
	c.SetDefault("WalletConfig.AtaAccountSize", 165)
	c.SetDefault("WalletConfig.ComputeUnitLimit", 1000000)
	c.SetDefault("WalletConfig.ComputeUnitPrice", 1000)
	c.SetDefault("WalletConfig.MinTransferThreshold", "0.002")
	c.SetDefault("WalletConfig.MinTokenTransferThreshold", "0.5")
	c.SetDefault("WalletConfig.MaxCoinTransfersPerTx", 50)
	c.SetDefault("WalletConfig.MaxTokenTransfersPerTx", 55)
	c.SetDefault("WalletConfig.LastBlockLocked", true)

	c.SetDefault("WatcherConfig.PollSeconds", 2)
	c.SetDefault("WatcherConfig.ParallelThreshold", 30)
	c.SetDefault("WatcherConfig.Workers", 10)
	c.SetDefault("WatcherConfig.RefreshSeconds", 3600)

	c.SetDefault("APIConfig.Listen", ":8080")

	c.SetDefault("LogConfig.RunMode", "debug")
	c.SetDefault("LogConfig.VisitLogFile", "./log/visit.log")
	c.SetDefault("LogConfig.MaxSizeMB", 500)
	c.SetDefault("LogConfig.MaxBackups", 150)
	c.SetDefault("LogConfig.MaxAgeDays", 30)

	c.SetDefault("Tokens", map[string]map[string]TokenInfo{
		"main": {
			"SOLANA-USDT":  {TokenAddress: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"},
			"SOLANA-USDC":  {TokenAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
			"SOLANA-PYUSD": {TokenAddress: "2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo"},
		},
		"devnet": {
			"SOLANA-USDT":  {TokenAddress: "GCRaxtuxSybvBCYtwT45DCNm2sXP4SKrowhQ1TPabE1"},
			"SOLANA-USDC":  {TokenAddress: "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr"},
			"SOLANA-PYUSD": {TokenAddress: "CXk2AMBfi3TwaEL2468s6zP8xq9NxTXjp9gjMgzeUynM"},
		},
	})
}

func LoadConf(configFilePath string) error {
	config = Config{}
	configMutex.Lock()
	defer configMutex.Unlock()

	configViper = viper.New()
	configViper.SetConfigName("config")
	configViper.AddConfigPath(configFilePath) //endwith "/"
	configViper.SetConfigType("yaml")
	setDefaults(configViper)

	if err := configViper.ReadInConfig(); err != nil {
		return err
	}
	if err := configViper.Unmarshal(&config); err != nil {
		return err
	}

	logger.Logrus.WithFields(logrus.Fields{"Config": config}).Info("Load config success")

	if err := watchConfig(configViper); err != nil {
		return err
	}
	return nil
}

func reloadConfig(c *viper.Viper) {
	configMutex.Lock()
	defer configMutex.Unlock()

	if err := c.ReadInConfig(); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err.Error()}).Error("config ReLoad failed")
	}

	if err := configViper.Unmarshal(&config); err != nil {
		logger.Logrus.WithFields(logrus.Fields{"ErrMsg": err.Error()}).Error("unmarshal config failed")
	}

	logger.Logrus.WithFields(logrus.Fields{"config": config}).Info("Config ReLoad Success")
}

func GetPostgresqlConfig() PostgresqlConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.PostgresqlConfig
}

func GetRedisConfig() RedisConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.RedisConf
}

func GetKafkaConfig() KafkaConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.KafkaConf
}

func GetFullnodeConfig() FullnodeConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.FullnodeConf
}

func GetWalletConfig() WalletConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.WalletConf
}

func GetWatcherConfig() WatcherConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.WatcherConf
}

func GetGatewayConfig() GatewayConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.GatewayConf
}

func GetAPIConfig() APIConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.APIConf
}

func GetLogConfig() LogConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return config.LogConf
}

// GetTokenAddress returns the mint address of a confirmed token
// symbol on the currently selected network.
func GetTokenAddress(symbol string) (string, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	network, ok := config.Tokens[config.FullnodeConf.Network]
	if !ok {
		return "", fmt.Errorf("network %s has no token registry", config.FullnodeConf.Network)
	}
	info, ok := network[symbol]
	if !ok {
		return "", fmt.Errorf("token %s is not defined for network %s", symbol, config.FullnodeConf.Network)
	}
	return info.TokenAddress, nil
}

// IsTokenSymbol reports whether symbol is a confirmed token on the
// current network.
func IsTokenSymbol(symbol string) bool {
	configMutex.RLock()
	defer configMutex.RUnlock()

	network, ok := config.Tokens[config.FullnodeConf.Network]
	if !ok {
		return false
	}
	_, ok = network[symbol]
	return ok
}

// TokenSymbols returns all confirmed token symbols on the current
// network.
func TokenSymbols() []string {
	configMutex.RLock()
	defer configMutex.RUnlock()

	var symbols []string
	for symbol := range config.Tokens[config.FullnodeConf.Network] {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// TokenMints returns mint address -> symbol for the current network.
func TokenMints() map[string]string {
	configMutex.RLock()
	defer configMutex.RUnlock()

	mints := make(map[string]string)
	for symbol, info := range config.Tokens[config.FullnodeConf.Network] {
		mints[info.TokenAddress] = symbol
	}
	return mints
}
