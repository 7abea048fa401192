package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/0gfoundation/0g-rav-redeemer/internal/store"
)

type Config struct {
	Network    string           `mapstructure:"network"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Contracts  ContractsConfig  `mapstructure:"contracts"`
	Subgraphs  SubgraphsConfig  `mapstructure:"subgraphs"`
	Redemption RedemptionConfig `mapstructure:"redemption"`
	Server     ServerConfig     `mapstructure:"server"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DbName   string `mapstructure:"db_name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	ChainID     int64  `mapstructure:"chain_id"`
	OperatorKey string `mapstructure:"operator_key"`
	// LegacyOperatorKeys are earlier operator identities whose derived
	// allocations may still hold legacy RAVs, tried in order.
	LegacyOperatorKeys []string `mapstructure:"legacy_operator_keys"`
	IndexerAddress     string   `mapstructure:"indexer_address"`
}

type ContractsConfig struct {
	Controller          string `mapstructure:"controller"`
	LegacyStaking       string `mapstructure:"legacy_staking"`
	LegacyEscrow        string `mapstructure:"legacy_escrow"`
	LegacyTapVerifier   string `mapstructure:"legacy_tap_verifier"`
	HorizonStaking      string `mapstructure:"horizon_staking"`
	SubgraphService     string `mapstructure:"subgraph_service"`
	GraphTallyCollector string `mapstructure:"graph_tally_collector"`
}

type SubgraphsConfig struct {
	NetworkURL      string `mapstructure:"network_url"`
	LegacyEscrowURL string `mapstructure:"legacy_escrow_url"`
	PageSize        int    `mapstructure:"page_size"`
}

type RedemptionConfig struct {
	// Threshold is a decimal GRT wei amount.
	Threshold         string `mapstructure:"threshold"`
	FinalityWindowSec int64  `mapstructure:"finality_window_sec"`
	RevertMarginSec   int64  `mapstructure:"revert_margin_sec"`
	IntervalSec       int64  `mapstructure:"interval_sec"`
	BatchSize         int    `mapstructure:"batch_size"`
	LegacyEnabled     bool   `mapstructure:"legacy_enabled"`
	HorizonEnabled    bool   `mapstructure:"horizon_enabled"`
	LockTTLSec        int64  `mapstructure:"lock_ttl_sec"`
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing priority. An empty path searches for
// config.yaml in the working directory and /app; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("network", "mainnet")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "indexer")
	v.SetDefault("database.db_name", "indexer_components")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("subgraphs.page_size", 1000)
	v.SetDefault("redemption.threshold", "0")
	v.SetDefault("redemption.finality_window_sec", 3600)
	v.SetDefault("redemption.revert_margin_sec", 60)
	v.SetDefault("redemption.interval_sec", 60)
	v.SetDefault("redemption.batch_size", 100)
	v.SetDefault("redemption.legacy_enabled", true)
	v.SetDefault("redemption.horizon_enabled", true)
	v.SetDefault("redemption.lock_ttl_sec", 600)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
		_ = v.ReadInConfig()
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"network":                         "NETWORK",
		"log.debug":                       "DEBUG",
		"database.host":                   "DATABASE_HOST",
		"database.port":                   "DATABASE_PORT",
		"database.username":               "DATABASE_USERNAME",
		"database.password":               "DATABASE_PASSWORD",
		"database.db_name":                "DATABASE_NAME",
		"redis.addr":                      "REDIS_ADDR",
		"redis.password":                  "REDIS_PASSWORD",
		"chain.rpc_url":                   "RPC_URL",
		"chain.chain_id":                  "CHAIN_ID",
		"chain.operator_key":              "OPERATOR_KEY",
		"chain.legacy_operator_keys":      "LEGACY_OPERATOR_KEYS",
		"chain.indexer_address":           "INDEXER_ADDRESS",
		"contracts.controller":            "CONTROLLER_ADDRESS",
		"contracts.legacy_staking":        "LEGACY_STAKING_ADDRESS",
		"contracts.legacy_escrow":         "LEGACY_ESCROW_ADDRESS",
		"contracts.legacy_tap_verifier":   "LEGACY_TAP_VERIFIER_ADDRESS",
		"contracts.horizon_staking":       "HORIZON_STAKING_ADDRESS",
		"contracts.subgraph_service":      "SUBGRAPH_SERVICE_ADDRESS",
		"contracts.graph_tally_collector": "GRAPH_TALLY_COLLECTOR_ADDRESS",
		"subgraphs.network_url":           "NETWORK_SUBGRAPH_URL",
		"subgraphs.legacy_escrow_url":     "LEGACY_ESCROW_SUBGRAPH_URL",
		"subgraphs.page_size":             "SUBGRAPH_PAGE_SIZE",
		"redemption.threshold":            "REDEMPTION_THRESHOLD",
		"redemption.finality_window_sec":  "FINALITY_WINDOW_SEC",
		"redemption.revert_margin_sec":    "REVERT_MARGIN_SEC",
		"redemption.interval_sec":         "REDEMPTION_INTERVAL_SEC",
		"redemption.batch_size":           "REDEMPTION_BATCH_SIZE",
		"redemption.legacy_enabled":       "LEGACY_ENABLED",
		"redemption.horizon_enabled":      "HORIZON_ENABLED",
		"redemption.lock_ttl_sec":         "LOCK_TTL_SEC",
		"server.port":                     "PORT",
		"server.grpc_port":                "GRPC_PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if !c.Redemption.LegacyEnabled && !c.Redemption.HorizonEnabled {
		return errors.New("both legacy and horizon redemption are disabled")
	}

	type req struct {
		val  string
		name string
	}
	reqs := []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.OperatorKey, "OPERATOR_KEY"},
		{c.Chain.IndexerAddress, "INDEXER_ADDRESS"},
		{c.Contracts.Controller, "CONTROLLER_ADDRESS"},
		{c.Subgraphs.NetworkURL, "NETWORK_SUBGRAPH_URL"},
	}
	if c.Redemption.LegacyEnabled {
		reqs = append(reqs,
			req{c.Contracts.LegacyStaking, "LEGACY_STAKING_ADDRESS"},
			req{c.Contracts.LegacyEscrow, "LEGACY_ESCROW_ADDRESS"},
			req{c.Contracts.LegacyTapVerifier, "LEGACY_TAP_VERIFIER_ADDRESS"},
			req{c.Subgraphs.LegacyEscrowURL, "LEGACY_ESCROW_SUBGRAPH_URL"},
		)
	}
	if c.Redemption.HorizonEnabled {
		reqs = append(reqs,
			req{c.Contracts.HorizonStaking, "HORIZON_STAKING_ADDRESS"},
			req{c.Contracts.SubgraphService, "SUBGRAPH_SERVICE_ADDRESS"},
			req{c.Contracts.GraphTallyCollector, "GRAPH_TALLY_COLLECTOR_ADDRESS"},
		)
	}
	for _, r := range reqs {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return errors.New("required config missing: CHAIN_ID")
	}

	for _, a := range []req{
		{c.Chain.IndexerAddress, "INDEXER_ADDRESS"},
		{c.Contracts.Controller, "CONTROLLER_ADDRESS"},
		{c.Contracts.LegacyStaking, "LEGACY_STAKING_ADDRESS"},
		{c.Contracts.LegacyEscrow, "LEGACY_ESCROW_ADDRESS"},
		{c.Contracts.LegacyTapVerifier, "LEGACY_TAP_VERIFIER_ADDRESS"},
		{c.Contracts.HorizonStaking, "HORIZON_STAKING_ADDRESS"},
		{c.Contracts.SubgraphService, "SUBGRAPH_SERVICE_ADDRESS"},
		{c.Contracts.GraphTallyCollector, "GRAPH_TALLY_COLLECTOR_ADDRESS"},
	} {
		if a.val != "" && !common.IsHexAddress(a.val) {
			return fmt.Errorf("invalid address %s: %q", a.name, a.val)
		}
	}

	if _, err := c.Threshold(); err != nil {
		return err
	}
	if c.Redemption.IntervalSec <= 0 {
		return errors.New("REDEMPTION_INTERVAL_SEC must be positive")
	}
	if c.Redemption.FinalityWindowSec < 0 || c.Redemption.RevertMarginSec < 0 {
		return errors.New("finality window and revert margin must not be negative")
	}
	if c.Redemption.LockTTLSec <= 0 {
		return errors.New("LOCK_TTL_SEC must be positive")
	}
	return nil
}

// Threshold parses the redemption threshold.
func (c *Config) Threshold() (*big.Int, error) {
	t, ok := new(big.Int).SetString(c.Redemption.Threshold, 10)
	if !ok || t.Sign() < 0 {
		return nil, fmt.Errorf("invalid REDEMPTION_THRESHOLD %q", c.Redemption.Threshold)
	}
	return t, nil
}

func (c *Config) FinalityWindow() time.Duration {
	return time.Duration(c.Redemption.FinalityWindowSec) * time.Second
}

func (c *Config) RevertMargin() time.Duration {
	return time.Duration(c.Redemption.RevertMarginSec) * time.Second
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Redemption.IntervalSec) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redemption.LockTTLSec) * time.Second
}

func (c *Config) Postgres() store.PostgresConfig {
	return store.PostgresConfig{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		Username: c.Database.Username,
		Password: c.Database.Password,
		DbName:   c.Database.DbName,
	}
}
