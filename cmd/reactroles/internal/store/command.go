package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal"
	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bindings/sqlite"
	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/channels"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/sweeper"
)

func NewStoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and maintain the binding store",
		Example: `  reactroles store list
  reactroles store list --guild 123456789012345678
  reactroles store remove 987654321098765432
  reactroles store prune`,
	}

	cmd.AddCommand(
		newListCommand(),
		newRemoveCommand(),
		newPruneCommand(),
	)

	return cmd
}

func newListCommand() *cobra.Command {
	var guildID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every setup message and its bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(db *sqlite.Store) error {
				return listSets(cmd.Context(), db, guildID, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "Only list sets in this guild")

	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <message-id>",
		Short: "Forget a setup message without touching its reactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(db *sqlite.Store) error {
				if err := db.Remove(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, bindings.ErrNotFound) {
						return fmt.Errorf("no binding set for message %s", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed binding set for message %s\n", args[0])
				return nil
			})
		},
	}
}

func newPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove sets whose message no longer exists on Discord",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Discord.Token == "" {
				return fmt.Errorf("discord.token is required to check messages")
			}
			// REST only; the gateway session is never opened.
			discord, err := channels.NewDiscordChannel(cfg.Discord, bus.NewMessageBus())
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(db *sqlite.Store) error {
				return prune(cmd.Context(), db, discord, cfg.Sweeper.Concurrency, cmd.OutOrStdout())
			})
		},
	}
}

func withStore(ctx context.Context, fn func(*sqlite.Store) error) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(ctx, cfg.StoragePath())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func listSets(ctx context.Context, store bindings.Store, guildID string, out io.Writer) error {
	count := 0
	err := store.Scan(ctx, func(set bindings.BindingSet) error {
		if guildID != "" && set.GuildID != guildID {
			return nil
		}
		count++
		fmt.Fprintf(out, "%s  guild=%s channel=%s\n", set.MessageID, set.GuildID, set.ChannelID)
		for _, b := range set.Bindings {
			fmt.Fprintf(out, "    %s -> %s\n", b.Emoji, b.RoleID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d binding set(s)\n", count)
	return nil
}

func prune(ctx context.Context, store bindings.Store, client platform.Client, concurrency int, out io.Writer) error {
	removed, err := sweeper.New(store, client, concurrency, metrics.Default()).Sweep(ctx)
	fmt.Fprintf(out, "Pruned %d binding set(s)\n", removed)
	return err
}
