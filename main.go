package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/cmd/link"
	"github.com/chirino/conversation-identity/internal/cmd/migrate"
	"github.com/chirino/conversation-identity/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "conversation-identity",
		Usage: "Links channel identities to one canonical conversation per customer",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			link.Command(),
			link.ResolveCommand(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
