package cli

import (
	"github.com/spf13/cobra"

	"github.com/nhle/taskwatch/internal/sync"
)

var noAnnounce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll continuously until interrupted",
	RunE:  runRun,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single poll cycle and exit",
	Long: `Run a single poll cycle: fetch, compare with the last snapshot, save,
and notify. Exits 0 even when no data could be fetched.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&noAnnounce, "quiet-start", false, "Do not send the startup message")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, logger, err := loadApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	interval := a.Config.PollInterval()
	logger.Info().Dur("interval", interval).Msg("monitor started")

	return a.Poller.Run(cmd.Context(), interval, !noAnnounce)
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, logger, err := loadApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := a.Poller.RunOnce(cmd.Context())

	ev := logger.Info()
	if out.State != sync.CycleOK {
		ev = logger.Warn().AnErr("cause", out.Err)
	}
	ev.Stringer("state", out.State).
		Int("entities", out.Entities).
		Int("events", out.Events).
		Int("delivered", out.Delivered).
		Msg("cycle finished")

	return nil
}
