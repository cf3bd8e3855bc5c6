package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/classmeet/internal/adapters/http"
	"github.com/dkeye/classmeet/internal/adapters/rtc"
	"github.com/dkeye/classmeet/internal/app"
	"github.com/dkeye/classmeet/internal/app/orch"
	"github.com/dkeye/classmeet/internal/config"
	"github.com/dkeye/classmeet/internal/core"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func iceServers(cfg *config.Config) []core.ICEServer {
	out := make([]core.ICEServer, 0, len(cfg.Media.ICEServers))
	for _, s := range cfg.Media.ICEServers {
		out = append(out, core.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func serve(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	} else {
		zerolog.SetGlobalLevel(level)
	}

	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		return err
	}

	media, err := rtc.NewTransport(rtc.Options{
		ICEServers:     iceServers(cfg),
		HealthInterval: cfg.Media.HealthInterval,
		UDPPortMin:     cfg.Media.UDPPortMin,
		UDPPortMax:     cfg.Media.UDPPortMax,
	})
	if err != nil {
		return err
	}
	if err := media.Start(ctx); err != nil {
		return err
	}

	reg := app.NewRegistry()
	rooms := app.NewRoomManager(media, cfg.Room)
	o := &orch.Orchestrator{
		Registry:      reg,
		Rooms:         rooms,
		Admission:     app.NewAdmissionController(),
		Relay:         app.NewRelay(reg, rooms, policy),
		ChatMaxLength: cfg.Chat.MaxLength,
	}

	r := router.SetupRouter(ctx, cfg, o)
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("classmeet server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case runErr = <-media.Fatal():
		log.Error().Err(runErr).Msg("media layer died, shutting down")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Int("rooms", rooms.Len()).Msg("Server exited")
	return runErr
}
