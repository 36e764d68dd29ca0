package notify

import (
	"fmt"

	"github.com/nhle/taskwatch/internal/model"
)

// StartupMessage is sent once when the long-running monitor starts.
const StartupMessage = "🚀 Task Monitor Started!"

// FormatEvent renders a change event as a Markdown message.
func FormatEvent(ev model.Event) string {
	switch ev.Kind {
	case model.EventNewEntity:
		return fmt.Sprintf(
			"🚀 *NEW PROJECT FOUND*\n"+
				"Name: `%s`\n"+
				"Total Tasks: %d\n"+
				"Drafts (Available): %d",
			ev.Entity.Name, ev.Entity.Total, ev.Entity.Draft,
		)
	case model.EventCountIncreased:
		return fmt.Sprintf(
			"🔔 *TASKS ADDED*\n"+
				"Project: `%s`\n"+
				"New Tasks: +%d\n"+
				"Total Drafts: %d",
			ev.Entity.Name, ev.Delta, ev.Entity.Draft,
		)
	default:
		return fmt.Sprintf("Project `%s` changed", ev.Entity.Name)
	}
}

// FormatRefreshFailed renders the operator alert for a failed login.
func FormatRefreshFailed(err error) string {
	return fmt.Sprintf(
		"⚠️ *CRITICAL*: automatic login failed, polling is stopped until it succeeds.\n%v",
		err,
	)
}

// FormatTokenFallback renders the alert raised when the verification
// token is used directly as the access credential.
func FormatTokenFallback(err error) string {
	return fmt.Sprintf(
		"⚠️ Token exchange failed; using the email verification token as the access credential. "+
			"It may be rejected.\n%v",
		err,
	)
}
