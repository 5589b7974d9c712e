package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create or update the Temporal cron schedule for a credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		credential, _ := cmd.Flags().GetString("credential")
		cron, _ := cmd.Flags().GetString("cron")
		if cron == "" {
			cron = cfg.Temporal.Cron
		}

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		opts := schedule.ScheduleOptions{
			ID:        schedule.ScheduleID(credential),
			Cron:      cron,
			TaskQueue: cfg.Temporal.TaskQueue,
			Params: schedule.SyncParams{
				Credential:  credential,
				TimeoutMins: cfg.Temporal.TimeoutMins,
			},
		}
		if err := schedule.EnsureSchedule(cmd.Context(), c.ScheduleClient(), opts); err != nil {
			return eris.Wrap(err, "schedule")
		}
		logger.Info("schedule ensured",
			zap.String("id", opts.ID),
			zap.String("cron", cron),
			zap.String("task_queue", opts.TaskQueue),
		)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("credential", "", "credential name (defaults to the single active credential)")
	scheduleCmd.Flags().String("cron", "", "cron expression (defaults to temporal.cron)")
	rootCmd.AddCommand(scheduleCmd)
}
