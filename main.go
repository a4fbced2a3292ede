package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/andrejsstepanovs/fairytale/pkg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	initConfig()

	rootCmd := &cobra.Command{
		Use:          "fairytale",
		Short:        "Illustrated and narrated fairy tale generator",
		SilenceUsage: true,
	}

	cmds, err := pkg.NewCommands()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmds...)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	// app.env next to the binary wins over the one in the home directory.
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("cannot resolve home directory", "error", err)
	} else {
		viper.AddConfigPath(home)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Debug("no app.env found, using the environment only")
			return
		}
		slog.Warn("error reading config file", "error", err)
	}
}
