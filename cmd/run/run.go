package run

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/sessmux/sessmux/config"
	"github.com/sessmux/sessmux/server"
	"github.com/sessmux/sessmux/tools"
	"github.com/spf13/cobra"
)

var (
	configFile = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "config.yaml")
	watch      bool

	Cmd = &cobra.Command{
		Use:   "run",
		Short: "Run the sessmux gateway",
		Args:  cobra.NoArgs,
		RunE:  runGateway,
	}
)

func init() {
	Cmd.Flags().StringVarP(&configFile, "config", "c", configFile, "path of config file")
	Cmd.Flags().BoolVarP(&watch, "watch", "w", false, "apply session cache settings when the config file changes")
}

func runGateway(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "run").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		return err
	}

	gw, err := server.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watch {
		watcher, err := config.NewWatcher(configFile, gw.ApplyConfig)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msg("starting sessmux gateway")
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case err := <-errCh:
		logger.Error().Err(err).Msg("gateway error")
		return err
	}

	logger.Info().Msg("gateway stopped")
	return nil
}
