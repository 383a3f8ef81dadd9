package dashcli

import (
	"fmt"
	"io"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/apiclient"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	seriesReason   string
	seriesLocation string
	seriesNotes    string

	attendanceStatus  string
	attendanceNote    string
	attendanceCheckIn string
	notesText         string
)

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Inspect and change recurring series",
}

var seriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the recurring series visible to the token's role",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		groups, err := api.ListRecurring(cmd.Context())
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return writeJSON(cmd.OutOrStdout(), groups)
		}
		printSeries(cmd.OutOrStdout(), groups)
		return nil
	},
}

var seriesCancelCmd = &cobra.Command{
	Use:   "cancel GROUP_ID",
	Short: "Cancel the remaining sessions of a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		sessions, err := api.CancelSeries(cmd.Context(), args[0], seriesReason)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), sessions)
	},
}

var seriesUpdateCmd = &cobra.Command{
	Use:   "update GROUP_ID",
	Short: "Change location or notes on the remaining sessions of a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var update services.SeriesUpdate
		if cmd.Flags().Changed("location") {
			update.Location = &seriesLocation
		}
		if cmd.Flags().Changed("notes") {
			update.Notes = &seriesNotes
		}
		if update.Location == nil && update.Notes == nil {
			return fmt.Errorf("set --location or --notes")
		}

		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		sessions, err := api.UpdateSeries(cmd.Context(), args[0], update)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), sessions)
	},
}

var cancelWarningCmd = &cobra.Command{
	Use:   "cancel-warning SESSION_ID",
	Short: "Show whether cancelling a session now would be late",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSessionArg(args[0])
		if err != nil {
			return err
		}
		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		notice, err := api.CancelWarning(cmd.Context(), id)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return writeJSON(cmd.OutOrStdout(), notice)
		}
		line := notice.Message
		if notice.Late {
			line = warningStyle.Render(line)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", dimStyle.Render(fmt.Sprintf("%.1fh", notice.HoursUntil)), line)
		return nil
	},
}

func printSeries(w io.Writer, groups []services.RecurringGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no recurring series"))
		return
	}
	for _, group := range groups {
		fmt.Fprintf(w, "%s %s %s\n",
			headerStyle.Render(group.GroupID),
			group.Location,
			dimStyle.Render(fmt.Sprintf("%d upcoming, %d completed, %d cancelled", group.Upcoming, group.Completed, group.Cancelled)),
		)
	}
}

func init() {
	seriesCancelCmd.Flags().StringVar(&seriesReason, "reason", "", "cancellation reason")
	seriesUpdateCmd.Flags().StringVar(&seriesLocation, "location", "", "new location")
	seriesUpdateCmd.Flags().StringVar(&seriesNotes, "notes", "", "new public notes")
	seriesCmd.AddCommand(seriesListCmd, seriesCancelCmd, seriesUpdateCmd)

	attendanceCmd := sessionCommand("attendance", "Record attendance for a booked session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		input := services.AttendanceInput{Status: attendanceStatus, Notes: attendanceNote}
		if attendanceCheckIn != "" {
			checkIn, err := parseTimeFlag(attendanceCheckIn)
			if err != nil {
				return nil, fmt.Errorf("--check-in: %w", err)
			}
			checkIn = checkIn.In(time.UTC)
			input.CheckInAt = &checkIn
		}
		return api.RecordAttendance(cmd.Context(), id, input)
	})
	attendanceCmd.Flags().StringVar(&attendanceStatus, "status", "", "present, late or no_show")
	attendanceCmd.Flags().StringVar(&attendanceNote, "notes", "", "private attendance notes")
	attendanceCmd.Flags().StringVar(&attendanceCheckIn, "check-in", "", "check-in time (default now)")
	_ = attendanceCmd.MarkFlagRequired("status")

	notesCmd := sessionCommand("notes", "Replace a session's private notes", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.UpdateNotes(cmd.Context(), id, notesText)
	})
	notesCmd.Flags().StringVar(&notesText, "text", "", "notes text (empty clears)")

	rootCmd.AddCommand(seriesCmd, cancelWarningCmd, attendanceCmd, notesCmd)
}
