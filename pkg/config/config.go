package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the resolved runtime configuration. Values come from, in
// precedence order: command-line flags, environment (including a local
// .env), a fintab.yaml config file, then defaults.
type Config struct {
	PlaidClientID    string
	PlaidSecret      string
	PlaidPublicKey   string
	PlaidEnvironment string

	LinkPort  int
	StorePath string

	// WindowDays is how far back a fetch reaches when no explicit start
	// date is given.
	WindowDays int

	Sink              string
	OutputDir         string
	SpreadsheetID     string
	SheetsCredentials string

	CronSchedule string
}

// Build loads configuration. cfgFile overrides the config file location;
// flags, when non-nil, are bound on top so command-line values win.
func Build(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// A local .env is the conventional place for provider credentials.
	_ = gotenv.Load()

	v := viper.New()

	v.SetDefault("plaid_environment", "sandbox")
	v.SetDefault("link_port", 8000)
	v.SetDefault("store_path", "fintab-accounts.yaml")
	v.SetDefault("window_days", 30)
	v.SetDefault("sink", "csv")
	v.SetDefault("output_dir", ".")
	v.SetDefault("sheets_credentials", "credentials.json")
	v.SetDefault("cron_schedule", "0 6 * * *")

	for key, env := range map[string]string{
		"plaid_client_id":   "PLAID_CLIENT_ID",
		"plaid_secret":      "PLAID_SECRET",
		"plaid_public_key":  "PLAID_PUBLIC_KEY",
		"plaid_environment": "PLAID_ENVIRONMENT",
		"spreadsheet_id":    "SPREADSHEET_ID",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("fintab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	return &Config{
		PlaidClientID:     v.GetString("plaid_client_id"),
		PlaidSecret:       v.GetString("plaid_secret"),
		PlaidPublicKey:    v.GetString("plaid_public_key"),
		PlaidEnvironment:  v.GetString("plaid_environment"),
		LinkPort:          v.GetInt("link_port"),
		StorePath:         v.GetString("store_path"),
		WindowDays:        v.GetInt("window_days"),
		Sink:              v.GetString("sink"),
		OutputDir:         v.GetString("output_dir"),
		SpreadsheetID:     v.GetString("spreadsheet_id"),
		SheetsCredentials: v.GetString("sheets_credentials"),
		CronSchedule:      v.GetString("cron_schedule"),
	}, nil
}

// RequirePlaid validates that provider credentials are present.
func (c *Config) RequirePlaid() error {
	if c.PlaidClientID == "" || c.PlaidSecret == "" {
		return errors.New("PLAID_CLIENT_ID and PLAID_SECRET must be set")
	}
	return nil
}
