// Copyright 2018 Axel Wagner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package commands implements the roughtime CLI's subcommands.
package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "roughtime",
	Short: "Generate keys, run a Roughtime server, or query one",
	Long: `roughtime implements the Roughtime authenticated time protocol: a
long-term identity signs short-lived delegate keys, and a delegate key signs
the root of a Merkle tree of client nonces. This server builds a separate
one-nonce tree, and so a separate signature, for each request.

Use "roughtime [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is the only exported entry point main
// needs.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file to load into viper (default: none; it does not override flags)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	viper.SetEnvPrefix("ROUGHTIME")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(delegateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
}

// bindConfig loads cfgFile into viper, if set. No flag is bound to viper
// (BindPFlag is never called) and no subcommand reads values out of viper,
// so neither the config file nor ROUGHTIME_* environment variables change
// any setting; only command-line flags and their defaults take effect.
func bindConfig(cmd *cobra.Command) error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

// newLogger builds the process-wide zap logger at the level named by
// --log-level. Each subcommand that logs builds its own logger with this
// and passes it down explicitly rather than reaching for zap's global
// logger.
func newLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(logLevel); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
