package dashcli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/syncclient"
)

var (
	liveBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0B0B0B")).
			Background(lipgloss.Color("#04B575")).
			Padding(0, 1)
	reconnectingBadge = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#0B0B0B")).
				Background(lipgloss.Color("#FFB000")).
				Padding(0, 1)
	offlineBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#D7263D")).
			Padding(0, 1)

	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000"))

	statusColors = map[models.SessionStatus]lipgloss.Color{
		models.StatusAvailable: lipgloss.Color("#04B575"),
		models.StatusRequested: lipgloss.Color("#7D56F4"),
		models.StatusScheduled: lipgloss.Color("#3C91E6"),
		models.StatusConfirmed: lipgloss.Color("#00A6A6"),
		models.StatusCompleted: lipgloss.Color("241"),
		models.StatusCancelled: lipgloss.Color("#D7263D"),
	}
)

func badge(state syncclient.State) string {
	switch state {
	case syncclient.StateConnected:
		return liveBadge.Render("LIVE")
	case syncclient.StateExhausted:
		return offlineBadge.Render("DISCONNECTED")
	case syncclient.StateDisconnected:
		return offlineBadge.Render("OFFLINE")
	default:
		return reconnectingBadge.Render("RECONNECTING")
	}
}

func renderStatus(status models.SessionStatus) string {
	color, ok := statusColors[status]
	if !ok {
		return string(status)
	}
	return lipgloss.NewStyle().Foreground(color).Render(string(status))
}

func optionalID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

func printSessions(w io.Writer, sessions []models.Session, loc *time.Location) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no sessions"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-6s %-18s %-6s %-10s %-8s %-8s %s",
		"ID", "START", "MIN", "STATUS", "TRAINER", "CLIENT", "LOCATION")))
	for _, session := range sessions {
		// Pad before styling so ANSI codes do not break alignment.
		status := renderStatus(session.Status) + strings.Repeat(" ", max(0, 10-len(session.Status)))
		fmt.Fprintf(w, "%-6d %-18s %-6d %s %-8s %-8s %s\n",
			session.ID,
			session.Start.In(loc).Format("Mon Jan 02 15:04"),
			session.DurationMinutes,
			status,
			optionalID(session.TrainerID),
			optionalID(session.ClientID),
			session.Location,
		)
	}
}

func printStats(w io.Writer, stats models.SessionStats) {
	fmt.Fprintln(w, headerStyle.Render("SESSIONS"))
	fmt.Fprintf(w, "total %d  available %d  booked %d  confirmed %d  completed %d  cancelled %d  upcoming %d\n",
		stats.Total, stats.Available, stats.Booked, stats.Confirmed, stats.Completed, stats.Cancelled, stats.Upcoming)
}
