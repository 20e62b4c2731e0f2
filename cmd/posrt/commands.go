package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/app"
	"github.com/FrederickSamanga/sirkupPOS-sub001/cmd/internal/auth/session"
	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the realtime server",
		Example: `  # Serve with settings from .env and the environment
  posrt serve

  # Serve with an explicit env file
  posrt serve --env-file /etc/pos/realtime.env`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.LoadDotEnv(envFiles...); err != nil {
				return fmt.Errorf("load env: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load before reading configuration (default .env)")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage staff access tokens",
	}
	cmd.AddCommand(buildTokenKeygenCmd(), buildTokenMintCmd())
	return cmd
}

func buildTokenKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a PASETO v4 signing key pair",
		Long: `Generate an Ed25519 key pair for PASETO v4.public tokens and print it as env assignments.

Servers that only verify tokens need POS_PASETO_V4_PUBLIC_KEY_HEX; token minting needs the secret key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := paseto.NewV4AsymmetricSecretKey()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "POS_PASETO_V4_SECRET_KEY_HEX=%s\n", secret.ExportHex())
			fmt.Fprintf(out, "POS_PASETO_V4_PUBLIC_KEY_HEX=%s\n", secret.Public().ExportHex())
			return nil
		},
	}
}

func buildTokenMintCmd() *cobra.Command {
	var (
		userID     string
		name       string
		role       string
		restaurant string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:     "mint",
		Short:   "Mint a staff access token",
		Example: `  posrt token mint --user u-17 --name "Ana" --role WAITER --restaurant r-1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, ok := v1.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			if strings.TrimSpace(userID) == "" || strings.TrimSpace(restaurant) == "" {
				return fmt.Errorf("--user and --restaurant are required")
			}

			cfg, err := session.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.AccessTokenTTL = ttl
			}
			mgr, err := session.NewPasetoV4PublicManager(cfg)
			if err != nil {
				return err
			}

			if name == "" {
				name = userID
			}
			tok, exp, err := mgr.Issue(session.StaffClaims{
				UserID:       userID,
				Name:         name,
				Role:         string(r),
				RestaurantID: restaurant,
			}, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Staff user id")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the user id)")
	cmd.Flags().StringVar(&role, "role", "", "Role: ADMIN, MANAGER, CASHIER, WAITER or KITCHEN")
	cmd.Flags().StringVar(&restaurant, "restaurant", "", "Restaurant id (tenant)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default POS_AUTH_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("restaurant")
	return cmd
}
