package links

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/carmine/cmd/carmine/internal"
	"github.com/tinyland-inc/carmine/pkg/config"
	"github.com/tinyland-inc/carmine/pkg/store"
	"github.com/tinyland-inc/carmine/pkg/utils"
)

type opener func(ctx context.Context) (*store.Store, error)

func NewLinksCommand() *cobra.Command {
	var configPath string
	cmd := newLinksCommand(func(ctx context.Context) (*store.Store, error) {
		return openStore(ctx, configPath)
	})
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.carmine/config.yaml)")
	return cmd
}

func newLinksCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Manage Discord <-> Slack channel links",
		Example: `  carmine links list
  carmine links add 123456789012345678 C0123ABCD
  carmine links remove 123456789012345678`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newListCommand(open),
		newAddCommand(open),
		newRemoveCommand(open),
	)
	return cmd
}

func newListCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List linked channels",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, open, func(ctx context.Context, st *store.Store) error {
				links, err := st.ListLinks(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(links) == 0 {
					fmt.Fprintln(out, "No linked channels.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DISCORD\tSLACK")
				for _, l := range links {
					fmt.Fprintf(w, "%s\t%s\n", l.DiscordChannelID, l.SlackChannelID)
				}
				return w.Flush()
			})
		},
	}
}

func newAddCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "add <discord-channel-id> <slack-channel-id>",
		Short: "Link a Discord channel to a Slack channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			discordID, err := utils.ParseDiscordID(args[0])
			if err != nil {
				return err
			}
			slackID, err := utils.ValidateSlackChannelID(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, open, func(ctx context.Context, st *store.Store) error {
				if err := st.LinkChannels(ctx, discordID, slackID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Linked Discord %s <-> Slack %s\n", discordID, slackID)
				return nil
			})
		},
	}
}

func newRemoveCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <discord-channel-id>",
		Aliases: []string{"rm"},
		Short:   "Remove the link of a Discord channel",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			discordID, err := utils.ParseDiscordID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, open, func(ctx context.Context, st *store.Store) error {
				slackID, ok, err := st.SlackChannelFor(ctx, discordID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("discord channel %s is not linked", discordID)
				}
				if err := st.UnlinkChannels(ctx, discordID, slackID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unlinked Discord %s <-> Slack %s\n", discordID, slackID)
				return nil
			})
		},
	}
}

func withStore(cmd *cobra.Command, open opener, fn func(context.Context, *store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

// openStore needs only the Redis settings, so the platform credentials
// are not validated here.
func openStore(ctx context.Context, path string) (*store.Store, error) {
	internal.LoadEnvFile()
	if path == "" {
		path = internal.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.URL == "" {
		return nil, &config.ConfigError{Missing: []string{"REDIS_URL"}}
	}
	return store.Open(ctx, cfg.Redis.URL, store.WithKeyPrefix(cfg.Redis.KeyPrefix))
}
