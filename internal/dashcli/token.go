package dashcli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	tokenUser int64
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token",
	Long: `Sign a token with the server's JWT secret (STUDIO_DASH_JWT_SECRET or
jwt_secret in the config file). Intended for local development only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("jwt_secret")
		if secret == "" {
			return errors.New("jwt_secret is not set")
		}
		role, ok := models.ParseRole(tokenRole)
		if !ok || role == models.RoleAnonymous {
			return fmt.Errorf("role must be client, trainer or admin, got %q", tokenRole)
		}
		if tokenUser <= 0 {
			return errors.New("--user must be a positive id")
		}

		token, err := utils.GenerateTokenWithTTL(strconv.FormatInt(tokenUser, 10), role.String(), secret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUser, "user", 0, "user id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "client", "client, trainer or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().String("secret", "", "JWT secret")
	_ = viper.BindPFlag("jwt_secret", tokenCmd.Flags().Lookup("secret"))
	rootCmd.AddCommand(tokenCmd)
}
