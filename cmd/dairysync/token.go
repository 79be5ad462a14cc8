package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xelth-com/dairysync/internal/config"
	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/utils"
)

func newTokenCmd() *cobra.Command {
	var (
		p   models.Principal
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a principal token for the node API",
		Long: `Signs a bearer token with JWT_SECRET. Sign-in belongs to the surrounding
application; this command is for provisioning kiosks and for testing.`,
		Example: `  dairysync token --id u7 --username ravi --role operator --employee E-9`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required to sign tokens")
			}
			if p.ID == "" {
				return errors.New("--id is required")
			}
			token, err := utils.GenerateToken(p, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "principal id")
	cmd.Flags().StringVar(&p.Username, "username", "", "display name")
	cmd.Flags().StringVar(&p.Role, "role", utils.RoleOperator, "admin, supervisor, operator or system")
	cmd.Flags().StringVar(&p.EmployeeID, "employee", "", "employee id stamped on ingested records")
	cmd.Flags().DurationVar(&ttl, "ttl", utils.DefaultTokenTTL, "token lifetime")
	return cmd
}
