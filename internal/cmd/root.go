package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/selfvisor/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SELFVISOR"

var rootCmd = &cobra.Command{
	Use:   "selfvisor",
	Short: "Per-user worker process supervisor",
	Long: `Selfvisor runs one long-lived worker process per registered user,
walks users through the login handshake their worker needs, and restarts
or stops workers in bulk.

Front ends talk to it over a WebSocket bridge started by 'selfvisor serve'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(viper.GetString("env"))
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/selfvisor/config.yaml)")
	rootCmd.PersistentFlags().String("env", "", "dotenv file loaded before reading the environment (default is ./.env when present)")
	rootCmd.PersistentFlags().String("users-dir", "", "directory holding one sub-directory per user")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
	_ = viper.BindPFlag("paths.users_dir", rootCmd.PersistentFlags().Lookup("users-dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	// e.g., SELFVISOR_BRIDGE_TOKEN for bridge.token
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadEnvFile loads KEY=VALUE pairs into the process environment. Variables
// already set win. A missing default file is not an error; a missing file
// named explicitly is.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig returns the validated configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// usersDir resolves the users directory against the working directory
func usersDir(cfg *config.Config) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cfg.Paths.ResolveUsersDir(cwd), nil
}
