package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/taskstatus/internal/api"
	"example.com/backstage/services/taskstatus/internal/api/handlers"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for status lookups, user summaries and event injection`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var searcher handlers.FeedbackSearcher
	if a.elastic != nil {
		searcher = a.elastic
	}

	statusHandler := handlers.NewStatusHandler(a.repo, a.pool, searcher, cfg.Feedback.PriorityLimit, a.tracer)
	server := api.NewServer(cfg.Server, statusHandler, a.metrics, a.tracer)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		return runHealthScheduler(ctx, a)
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("API server error")
		return err
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
