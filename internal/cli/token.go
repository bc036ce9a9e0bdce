package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmbridge/lmbridge/internal/auth"
	"github.com/lmbridge/lmbridge/internal/obs"
)

// TokenCommand represents the generate token command
func TokenCommand(load ConfigLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API key (lmbridge- format) for the admin endpoints",
		Long: `Generate an API key with lmbridge- prefix that contains a base64-encoded JWT
signed with the jwt_secret from the config. The key authenticates requests to
/metrics and the /admin endpoints when admin_secret is set.
Include it in the Authorization header as 'Bearer <token>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			jwtManager := auth.NewJWTManager(cfg.GetJWTSecret())

			apiKey, err := jwtManager.GenerateAPIKey("admin")
			if err != nil {
				return fmt.Errorf("failed to generate API key: %w", err)
			}

			if stateLog, err := obs.NewStateLog(cfg.Dir()); err == nil {
				_ = stateLog.LogAction(obs.ActionGenerateToken, nil, true, "admin API key generated")
			}

			fmt.Println("Generated LM Bridge API Key:")
			fmt.Println(apiKey)
			fmt.Println()
			fmt.Println("Usage in admin requests:")
			fmt.Println("Authorization: Bearer", apiKey)
			fmt.Println()
			fmt.Println("The key stays valid as long as jwt_secret in the config is unchanged.")
			return nil
		},
	}

	return cmd
}
