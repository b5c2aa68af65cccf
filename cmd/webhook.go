package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-reconciliation/internal/auth"
	"github.com/frahmantamala/payment-reconciliation/internal/webhook"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook development helpers",
}

var webhookSignCmd = &cobra.Command{
	Use:   "sign [payload-file]",
	Short: "Print the signature header value for a payload",
	Long:  `Sign a payload file (or stdin when the file is "-") with the configured webhook secret.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := signSecret
		if secret == "" {
			cfg, err := setup()
			if err != nil {
				return err
			}
			secret = cfg.Security.WebhookSecret
		}

		var body []byte
		var err error
		if args[0] == "-" {
			body, err = io.ReadAll(cmd.InOrStdin())
		} else {
			body, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(body, secret))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		perms := tokenPermissions
		if len(perms) == 0 {
			perms = []string{cfg.Security.AdminPermission}
		}

		gen := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret)
		if tokenTTL > 0 {
			gen.AccessTokenTTL = tokenTTL
		}
		token, err := gen.GenerateAccessToken(tokenUser, perms)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var (
	signSecret       string
	tokenUser        string
	tokenPermissions []string
	tokenTTL         time.Duration
)

func init() {
	webhookSignCmd.Flags().StringVar(&signSecret, "secret", "", "secret to sign with (defaults to security.webhook_secret)")
	webhookCmd.AddCommand(webhookSignCmd)

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id recorded as the actor")
	tokenCmd.Flags().StringSliceVar(&tokenPermissions, "permission", nil, "granted permissions (defaults to security.admin_permission)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(tokenCmd)
}
