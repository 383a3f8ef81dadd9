// Package dashcli is the studio dashboard command line: a live session feed
// plus one subcommand per lifecycle command.
package dashcli

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/saeid-a/StudioScheduleBack/internal/apiclient"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "studio-dash",
	Short: "Studio schedule dashboard",
	Long: `studio-dash follows the studio's session feed in real time and issues
booking, assignment, confirmation, completion and cancellation commands
against the scheduling API.

Settings come from flags, STUDIO_DASH_* environment variables, or a YAML
config file (default ./studio-dash.yaml or $HOME/.config/studio-dash/).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file")
	flags.String("api-url", "http://localhost:8080", "scheduling API base URL")
	flags.String("ws-url", "", "sync endpoint (default derived from --api-url)")
	flags.String("token", "", "bearer token")
	flags.Duration("timeout", apiclient.DefaultTimeout, "per-request timeout")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("json", false, "print JSON instead of text")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = viper.BindPFlag("ws_url", flags.Lookup("ws-url"))
	_ = viper.BindPFlag("token", flags.Lookup("token"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
}

func initConfig() {
	viper.SetDefault("reconnect.max_attempts", 10)
	viper.SetDefault("reconnect.initial_backoff", "1s")
	viper.SetDefault("reconnect.max_backoff", "30s")
	viper.SetDefault("reconnect.ping_interval", "30s")

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("studio-dash")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/studio-dash")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("STUDIO_DASH")
	// STUDIO_DASH_RECONNECT_MAX_ATTEMPTS for reconnect.max_attempts
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	_ = viper.ReadInConfig()
}

func newLogger() *logger.Logger {
	return logger.New(logger.Config{
		Level:   viper.GetString("log_level"),
		Format:  logger.FormatText,
		Output:  os.Stderr,
		Service: "studio-dash",
	})
}

func newAPIClient(log *logger.Logger) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Config{
		BaseURL: viper.GetString("api_url"),
		Token:   viper.GetString("token"),
		Timeout: viper.GetDuration("timeout"),
		Log:     log,
	})
}

// syncURL returns the configured ws URL or derives it from the API URL.
func syncURL(explicit, apiURL string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/api/v1/ws"
	return base.String(), nil
}
