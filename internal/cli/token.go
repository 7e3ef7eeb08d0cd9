package cli

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/service"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("user", "", "ID пользователя, по умолчанию новый UUID")
	tokenCmd.Flags().String("role", string(valueobject.RoleAdmin), "роль: shipper, transporter или admin")
	tokenCmd.Flags().Duration("ttl", 0, "срок жизни, по умолчанию ACCESS_TOKEN_TTL")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Выпустить access токен для ручной проверки API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	userID := uuid.New()
	if raw, _ := cmd.Flags().GetString("user"); raw != "" {
		if userID, err = uuid.Parse(raw); err != nil {
			return err
		}
	}
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.AccessTokenTTL
	}

	token, exp, err := service.NewTokenManager(cfg.JWTSecret, ttl).GenerateAccess(userID, valueobject.Role(role))
	if err != nil {
		return err
	}
	printf(cmd, "user:    %s\nrole:    %s\nexpires: %s\n%s\n", userID, role, exp.UTC().Format(time.RFC3339), token)
	return nil
}
