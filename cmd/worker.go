package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/taskstatus/internal/messaging"
	"example.com/backstage/services/taskstatus/internal/models"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the event worker",
	Long:  `Consume item created, updated and deleted events and publish feedback notifications`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	consumer, err := messaging.NewConsumer(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close consumer")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	channels := cfg.Channels()
	inbound := map[models.EventKind]string{
		models.EventCreated: channels.Created,
		models.EventUpdated: channels.Updated,
		models.EventDeleted: channels.Deleted,
	}
	for kind, channel := range inbound {
		g.Go(func() error {
			log.Info().Str("kind", string(kind)).Str("channel", channel).Msg("Starting consumer")
			return consumer.Consume(ctx, channel, a.pool.Handler(kind))
		})
	}

	g.Go(func() error {
		return runHealthScheduler(ctx, a)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
