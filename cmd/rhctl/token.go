package main

import (
	"context"
	"fmt"

	"github.com/phrazzld/rhqueue/internal/config"
	"github.com/phrazzld/rhqueue/internal/service/auth"
	"github.com/urfave/cli/v3"
)

var CommandToken = &cli.Command{
	Name:     "token",
	Usage:    "mint an API token signed with the server's secret",
	HideHelp: true,
	Category: "Server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "secret",
			Usage:    "JWT signing `secret` configured on the server",
			Sources:  cli.EnvVars("RHQ_AUTH_JWT_SECRET"),
			Required: true,
		},
		&cli.StringFlag{Name: "subject", Usage: "client `name` recorded in the token", Value: "rhctl"},
		&cli.IntFlag{Name: "lifetime", Usage: "token lifetime in `minutes`", Value: 60 * 24},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		token, err := mintToken(ctx, c.String("secret"), c.String("subject"), int(c.Int("lifetime")))
		if err != nil {
			return err
		}
		fmt.Fprintln(output(c), token)
		return nil
	},
}

func mintToken(ctx context.Context, secret, subject string, lifetimeMinutes int) (string, error) {
	if lifetimeMinutes <= 0 {
		return "", fmt.Errorf("lifetime must be positive, got %d", lifetimeMinutes)
	}
	svc, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            secret,
		TokenLifetimeMinutes: lifetimeMinutes,
	})
	if err != nil {
		return "", err
	}
	return svc.GenerateToken(ctx, subject)
}
