package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adi-253/dmsync/internal/config"
	"github.com/adi-253/dmsync/internal/devserver"
)

var rootCmd = &cobra.Command{
	Use:   "devserver",
	Short: "In-memory chat backend for local development",
	RunE:  runServer,
}

var flagPort string

func init() {
	rootCmd.Flags().StringVar(&flagPort, "port", "", "port to listen on (default from PORT, then 7000)")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute devserver command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadServer()
	if flagPort != "" {
		cfg.ServerPort = flagPort
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Info().Strs("origins", cfg.CORSOrigins).Msg("[DevServer] CORS allowed origins")

	srv := devserver.New(devserver.Options{
		CORSOrigins:      cfg.CORSOrigins,
		TokenIdleTimeout: cfg.TokenIdleTimeout,
		CleanupInterval:  cfg.CleanupInterval,
		RequestLog:       true,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		log.Info().Str("addr", httpSrv.Addr).Msg("[DevServer] Listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	log.Info().Msg("[DevServer] Stopped")
	return err
}
