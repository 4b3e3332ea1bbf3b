package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ttgw",
		Short:         "Bluetooth-Mesh gateway host process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (defaults to ./ttgw.yaml, then $HOME/ttgw.yaml)")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn, or error")
	root.PersistentFlags().String("log-format", "console", "console or json")

	root.AddCommand(newServeCmd())
	root.AddCommand(newPassthroughCmd())
	return root
}

// newSubViper builds a private Viper for one subcommand, binding fl
// (that subcommand's own flags, including the inherited persistent
// ones) and layering env vars and an optional config file on top. Each
// subcommand gets its own instance so that two subcommands defining a
// flag of the same name (e.g. both "serve" and "passthrough" take
// --platform) never shadow each other's binding — they did, briefly,
// when both were bound onto one shared Viper.
func newSubViper(fl *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fl); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("TTGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		return v, v.ReadInConfig()
	}
	v.SetConfigName("ttgw")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, err
	}
	return v, nil
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	var cfg zap.Config
	if v.GetString("log-format") == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
