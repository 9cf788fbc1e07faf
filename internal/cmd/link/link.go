// Package link provides the operator sub-commands that resolve and link
// channel identities directly against the configured backends.
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/cmd/serve"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/identity"
	"github.com/chirino/conversation-identity/internal/model"
	registrymigrate "github.com/chirino/conversation-identity/internal/registry/migrate"
	"github.com/urfave/cli/v3"
)

// Command returns the link sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var businessID, canonicalID string
	return &cli.Command{
		Name:      "link",
		Usage:     "Link a channel identity to a business id or canonical conversation",
		ArgsUsage: "<wa|web> <channel-identity>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "business-id",
				Destination: &businessID,
				Usage:       "Business id (CPF) to link to; punctuation is ignored",
			},
			&cli.StringFlag{
				Name:        "canonical-id",
				Destination: &canonicalID,
				Usage:       "Existing canonical conversation id to link to",
			},
		}, serve.BackendFlags(&cfg)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, channelIdentity, err := channelArgs(cmd)
			if err != nil {
				return err
			}
			if (businessID == "") == (canonicalID == "") {
				return fmt.Errorf("exactly one of --business-id or --canonical-id is required")
			}
			resolver, closeFn, err := open(ctx, &cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			var res identity.LinkResult
			if businessID != "" {
				res, err = resolver.LinkChannelToBusinessID(ctx, kind, channelIdentity, businessID)
			} else {
				res, err = resolver.LinkChannelToCanonical(ctx, kind, channelIdentity, canonicalID)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, map[string]any{
				"conversationId": res.ConversationID,
				"messages":       res.Merge.Messages,
				"duplicates":     res.Merge.Duplicates,
				"malformed":      res.Merge.Malformed,
				"migrated":       res.Migrated,
			})
		},
	}
}

// ResolveCommand returns the resolve sub-command.
func ResolveCommand() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Print the conversation id a channel identity currently maps to",
		ArgsUsage: "<wa|web> <channel-identity>",
		Flags:     serve.BackendFlags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, channelIdentity, err := channelArgs(cmd)
			if err != nil {
				return err
			}
			resolver, closeFn, err := open(ctx, &cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := resolver.ConversationFor(ctx, kind, channelIdentity)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, res)
		},
	}
}

func channelArgs(cmd *cli.Command) (model.ChannelKind, string, error) {
	if cmd.Args().Len() != 2 {
		return "", "", fmt.Errorf("expected <wa|web> <channel-identity>, got %d arguments", cmd.Args().Len())
	}
	kind, err := model.ParseChannelKind(cmd.Args().Get(0))
	if err != nil {
		return "", "", err
	}
	return kind, strings.TrimSpace(cmd.Args().Get(1)), nil
}

func open(ctx context.Context, cfg *config.Config) (*identity.IdentityResolver, func(), error) {
	ctx = config.WithContext(ctx, cfg)
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	backends, err := serve.LoadBackends(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := backends.Close(); err != nil {
			log.Warn("Closing backends failed", "err", err)
		}
	}
	resolver, err := identity.New(cfg, backends.KV, backends.Store, backends.Locker)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return resolver, closeFn, nil
}

func printJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
