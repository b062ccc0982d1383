// reactroles - Reaction role bot for Discord
// License: MIT
//
// Copyright (c) 2026 reactroles contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal"
	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal/gateway"
	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal/store"
	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal/version"
)

func NewReactrolesCommand() *cobra.Command {
	short := fmt.Sprintf("%s reactroles - Reaction roles for Discord v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "reactroles",
		Short:   short,
		Example: "reactroles gateway --config ~/.reactroles/config.json",
	}

	cmd.PersistentFlags().StringVarP(&internal.ConfigPath, "config", "c", "",
		"Config file path (default: ~/.reactroles/config.json)")

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		store.NewStoreCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewReactrolesCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
