package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/taskwatch/internal/credential"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in by email magic link and store the new token",
	Long: `Request a magic link, wait for it in the mailbox, exchange it for an
access token and store the token. Useful to seed the credential store or to
check the mailbox settings.`,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, _, err := loadApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.Refresher.Refresh(cmd.Context())
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Login succeeded, token stored.")
	if info, err := credential.Inspect(token); err == nil && !info.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "Expires: %s\n", info.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
