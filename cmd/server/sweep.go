package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/service"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel overdue preorders once and exit",
		Long: `sweep runs a single auto-cancel pass: every preorder whose start is more
than the grace period in the past is cancelled. It is meant for cron style
deployments where the serve loop is not running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			opts := []parking.Option{parking.WithPolicy(a.policy())}
			if a.cfg.AMQPURL != "" {
				pub := service.NewAMQPPublisher(a.cfg.AMQPURL, a.cfg.Parking.EventsQueue, a.cfg.Parking.Location)
				defer pub.Close()
				opts = append(opts, parking.WithPublisher(pub))
			}
			svc := parking.NewService(a.store, a.clock, opts...)
			if err := svc.Init(ctx); err != nil {
				return err
			}
			n, err := parking.NewScheduler(svc, a.clock, nil).RunOnce(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d overdue reservation(s)\n", n)
			return err
		},
	}
}
