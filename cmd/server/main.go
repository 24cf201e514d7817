package main // Entry point package

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "parkb",
		Short:         "parkb runs the parking allocation service for a single facility",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # in-memory state, no broker, no redis
  JWT_SECRET=dev RABBITMQ_URL=off REDIS_ADDR=off parkb serve

  # MySQL state
  PARKING_STORE=mysql DB_USER=parkb DB_HOST=127.0.0.1 DB_PORT=3306 DB_NAME=parkb JWT_SECRET=... parkb serve

  # cancel overdue preorders once and exit
  PARKING_STORE=mysql ... parkb sweep`,
	}
	cmd.AddCommand(newServeCommand(), newSweepCommand(), newUserCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "parkb:", err)
		os.Exit(1)
	}
}
