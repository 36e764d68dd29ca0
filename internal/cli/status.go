package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/taskwatch/internal/credential"
	"github.com/nhle/taskwatch/internal/model"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential, snapshot and notification state",
	Long: `Display taskwatch state:
- Credential presence and expiry
- Last recorded project counts
- Recent notifications`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of recent notifications to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, _, err := loadApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "taskwatch status")
	fmt.Fprintln(out, strings.Repeat("=", 40))

	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintf(out, "  API:        %s%s\n", a.Config.API.BaseURL, a.Config.API.ProjectsPath)
	fmt.Fprintf(out, "  Mailbox:    %s@%s\n", a.Config.Mailbox.Username, a.Config.Mailbox.Host)
	fmt.Fprintf(out, "  Database:   %s\n", a.Config.Storage.DBPath)
	fmt.Fprintf(out, "  Interval:   %s\n", a.Config.PollInterval())

	fmt.Fprintln(out, "\nCredential:")
	token, ok := a.Credentials.Load(ctx)
	printCredential(out, token, ok, time.Now())

	snap, err := a.Store.LoadSnapshot(ctx)
	if err != nil {
		fmt.Fprintf(out, "\nSnapshot: error (%s)\n", err)
	} else {
		printSnapshot(out, snap)
	}

	recent, err := a.Store.RecentNotifications(ctx, statusLimit)
	if err != nil {
		fmt.Fprintf(out, "\nNotifications: error (%s)\n", err)
		return nil
	}
	printNotifications(out, recent)

	return nil
}

func printCredential(out io.Writer, token string, ok bool, now time.Time) {
	if !ok {
		fmt.Fprintln(out, "  Status:     not set (run `taskwatch login`)")
		return
	}

	fmt.Fprintln(out, "  Status:     present")

	info, err := credential.Inspect(token)
	if err != nil {
		fmt.Fprintln(out, "  Format:     opaque")
		return
	}
	if info.Email != "" {
		fmt.Fprintf(out, "  Account:    %s\n", info.Email)
	}
	switch {
	case info.ExpiresAt.IsZero():
		fmt.Fprintln(out, "  Expires:    unknown")
	case info.Expired(now):
		fmt.Fprintf(out, "  Expires:    %s (expired)\n", info.ExpiresAt.Local().Format(time.DateTime))
	default:
		fmt.Fprintf(out, "  Expires:    %s\n", info.ExpiresAt.Local().Format(time.DateTime))
	}
}

func printSnapshot(out io.Writer, snap model.Snapshot) {
	if len(snap) == 0 {
		fmt.Fprintln(out, "\nSnapshot: (empty)")
		return
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(out, "\nSnapshot:")
	total := 0
	for _, id := range ids {
		fmt.Fprintf(out, "  %-24s %d\n", id, snap[id])
		total += snap[id]
	}
	fmt.Fprintf(out, "  %-24s %d\n", "TOTAL", total)
}

func printNotifications(out io.Writer, recent []model.Notification) {
	if len(recent) == 0 {
		fmt.Fprintln(out, "\nNotifications: (none)")
		return
	}

	fmt.Fprintln(out, "\nRecent notifications:")
	for _, n := range recent {
		mark := "sent"
		if !n.Delivered {
			mark = "FAILED"
		}
		first, _, _ := strings.Cut(n.Message, "\n")
		fmt.Fprintf(out, "  %s  %-6s  %-15s  %s\n",
			n.CreatedAt.Local().Format(time.DateTime), mark, n.Kind, first)
	}
}
