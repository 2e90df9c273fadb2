package cmd

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// runHealthScheduler checks dependencies on the configured interval until ctx
// is done
func runHealthScheduler(ctx context.Context, a *app) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(a.cfg.Scheduler.HealthInterval),
		gocron.NewTask(func() {
			a.checkHealth(ctx)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule health job")
	}

	log.Info().Dur("interval", a.cfg.Scheduler.HealthInterval).Msg("Starting health check job")
	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}
