package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "dmsync",
	Short:         "Terminal client for direct-message chats",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig   string
	flagAPIURL   string
	flagLogLevel string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "YAML config file (default from DMSYNC_CONFIG)")
	flags.StringVar(&flagAPIURL, "api-url", "", "chat API base URL (overrides DMSYNC_API_URL)")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		loginCmd,
		registerCmd,
		logoutCmd,
		whoamiCmd,
		chatsCmd,
		usersCmd,
		startCmd,
		openCmd,
		themeCmd,
	)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute dmsync command")
	}
}
