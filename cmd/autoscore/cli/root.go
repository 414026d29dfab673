package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autoscore/autoscore/internal/config"
)

var (
	cfgFile    string
	pidFile    string
	devMode    bool
	appVersion string // set in Execute, reported by serve and the MCP server

	// configErr holds a config file read failure other than "not found".
	configErr error
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoscore",
		Short: "Authenticated, audited vehicle scoring API",
		Long: `Autoscore serves vehicle scores over HTTP.

Every scoring request must carry an API key from the key table. Each request and
its response are written to an audit store (SQLite by default; Postgres, MySQL,
SQL Server, Oracle, Snowflake, a JSONL file or memory are also supported).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./autoscore.yaml)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode (debug logging)")
	cmd.PersistentFlags().StringVar(&pidFile, "pid-file", defaultPIDFile(), "PID file written by serve")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newScoreCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("autoscore")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.autoscore")
	}

	config.ConfigureEnv(viper.GetViper())

	// The config file is optional; defaults and env vars are enough.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			configErr = err
		}
	}
}
