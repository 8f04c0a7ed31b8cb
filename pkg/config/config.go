// Package config provides a reusable loader for node configuration files and
// environment variables. It mirrors the structure of the YAML file under
// config/default.yaml and lets every field be overridden by an environment
// variable of the same (upper-cased) name, the way pkg/config.Load did in
// the teacher repo this package is adapted from.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"p2pchain/pkg/utils"
)

// Config is the configuration surface enumerated in spec.md §6.
type Config struct {
	Difficulty              int      `mapstructure:"difficulty" json:"difficulty"`
	BlockReward             float64  `mapstructure:"block_reward" json:"block_reward"`
	NewAddressBalance       float64  `mapstructure:"new_address_balance" json:"new_address_balance"`
	MaxTransactionsPerBlock int      `mapstructure:"max_transactions_per_block" json:"max_transactions_per_block"`
	Confirmations           int      `mapstructure:"confirmations" json:"confirmations"`
	NodeAddresses           []string `mapstructure:"node_addresses" json:"node_addresses"`
	DataDir                 string   `mapstructure:"data_dir" json:"data_dir"`
	Curve                   string   `mapstructure:"curve" json:"curve"`
}

// Default returns the configuration the prototype ships with when no config
// file or environment override is present.
func Default() Config {
	return Config{
		Difficulty:              3,
		BlockReward:             1.0,
		NewAddressBalance:       1.0,
		MaxTransactionsPerBlock: 10,
		Confirmations:           1,
		NodeAddresses:           nil,
		DataDir:                 "./data",
		Curve:                   "P-224",
	}
}

// Load reads config/default.yaml (if present), then config/<env>.yaml (if
// env is non-empty and the file exists), then overlays environment
// variables, the way the teacher's pkg/config.Load chains
// SetConfigName/AddConfigPath/ReadInConfig/MergeInConfig/AutomaticEnv.
func Load(env string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	v.SetDefault("difficulty", cfg.Difficulty)
	v.SetDefault("block_reward", cfg.BlockReward)
	v.SetDefault("new_address_balance", cfg.NewAddressBalance)
	v.SetDefault("max_transactions_per_block", cfg.MaxTransactionsPerBlock)
	v.SetDefault("confirmations", cfg.Confirmations)
	v.SetDefault("node_addresses", cfg.NodeAddresses)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("curve", cfg.Curve)

	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration using the P2PCHAIN_ENV environment
// variable to select an optional overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("P2PCHAIN_ENV", ""))
}
