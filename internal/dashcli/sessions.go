package dashcli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/apiclient"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	listStatus   string
	listTrainer  int64
	listClient   int64
	listFrom     string
	listTo       string
	listScope    string
	listPublic   bool
	bookClient   int64
	assignTo     int64
	completeNote string
	cancelReason string

	createStart    string
	createDuration int
	createTrainer  int64
	createClient   int64
	createLocation string
	createNotes    string

	recurFrom  string
	recurTo    string
	recurDays  []int
	recurTimes []string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions visible to the token's role",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		opts, err := listOptions()
		if err != nil {
			return err
		}

		list := api.ListSessions
		if listPublic {
			list = api.ListPublicSessions
		}
		sessions, err := list(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return writeJSON(cmd.OutOrStdout(), sessions)
		}
		printSessions(cmd.OutOrStdout(), sessions, time.Local)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		stats, err := api.Stats(cmd.Context(), listScope)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		printStats(cmd.OutOrStdout(), *stats)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a single session slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseTimeFlag(createStart)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		slot := services.SlotInput{
			Start:           start,
			DurationMinutes: createDuration,
			Location:        createLocation,
			Notes:           createNotes,
		}
		if createTrainer > 0 {
			slot.TrainerID = &createTrainer
		}
		if createClient > 0 {
			slot.ClientID = &createClient
		}

		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		sessions, err := api.CreateSessions(cmd.Context(), []services.SlotInput{slot})
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), sessions)
	},
}

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Create slots from a weekly pattern",
	Long: `Expand a weekly pattern into slots, e.g.

  studio-dash recurring --from 2030-01-01 --to 2030-01-31 --days 1,3 --times 09:00,17:30`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := services.RecurringPattern{
			StartDate:       recurFrom,
			EndDate:         recurTo,
			DaysOfWeek:      recurDays,
			Times:           recurTimes,
			Location:        createLocation,
			DurationMinutes: createDuration,
			Notes:           createNotes,
		}
		if createTrainer > 0 {
			pattern.TrainerID = &createTrainer
		}

		api, err := newAPIClient(newLogger())
		if err != nil {
			return err
		}
		sessions, err := api.CreateRecurring(cmd.Context(), pattern)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), sessions)
	},
}

// sessionCommand builds a "<verb> SESSION_ID" subcommand around one client call.
func sessionCommand(use, short string, run func(*cobra.Command, *apiclient.Client, int64) (*models.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SESSION_ID",
		Short: short,
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

			session, err := run(cmd, api, id)
			var uncertain *apiclient.UncertainError
			if errors.As(err, &uncertain) {
				fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("outcome unknown: "+uncertain.Err.Error()))
				if session != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("server now reports this session as "+string(session.Status)))
				}
				return err
			}
			if errors.Is(err, apiclient.ErrLikelyApplied) {
				fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("an earlier attempt most likely succeeded"))
				return nil
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), []models.Session{*session})
		},
	}
}

func parseSessionArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return id, nil
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().Int64Var(&listTrainer, "trainer", 0, "filter by trainer id")
	listCmd.Flags().Int64Var(&listClient, "client", 0, "filter by client id")
	listCmd.Flags().StringVar(&listFrom, "from", "", "start date (YYYY-MM-DD or RFC3339)")
	listCmd.Flags().StringVar(&listTo, "to", "", "end date (YYYY-MM-DD or RFC3339)")
	listCmd.Flags().BoolVar(&listPublic, "public", false, "list open slots without credentials")
	for _, cmd := range []*cobra.Command{listCmd, statsCmd} {
		cmd.Flags().StringVar(&listScope, "scope", "", "admin scope: my or global")
	}

	for _, cmd := range []*cobra.Command{createCmd, recurringCmd} {
		cmd.Flags().IntVar(&createDuration, "duration", 0, "duration in minutes (default 60)")
		cmd.Flags().Int64Var(&createTrainer, "trainer", 0, "trainer id (trainers default to themselves)")
		cmd.Flags().StringVar(&createLocation, "location", "", "location")
		cmd.Flags().StringVar(&createNotes, "notes", "", "public notes")
	}
	createCmd.Flags().StringVar(&createStart, "start", "", "start time (RFC3339 or YYYY-MM-DDTHH:MM)")
	createCmd.Flags().Int64Var(&createClient, "client", 0, "book the slot for this client")
	_ = createCmd.MarkFlagRequired("start")

	recurringCmd.Flags().StringVar(&recurFrom, "from", "", "first date (YYYY-MM-DD)")
	recurringCmd.Flags().StringVar(&recurTo, "to", "", "last date (YYYY-MM-DD)")
	recurringCmd.Flags().IntSliceVar(&recurDays, "days", nil, "weekdays, 0=Sunday")
	recurringCmd.Flags().StringSliceVar(&recurTimes, "times", nil, "times of day (HH:MM)")
	for _, name := range []string{"from", "to", "days", "times"} {
		_ = recurringCmd.MarkFlagRequired(name)
	}

	bookCmd := sessionCommand("book", "Book an available session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.BookSession(cmd.Context(), id, bookClient)
	})
	requestCmd := sessionCommand("request", "Request an available session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.RequestSession(cmd.Context(), id, bookClient)
	})
	for _, cmd := range []*cobra.Command{bookCmd, requestCmd} {
		cmd.Flags().Int64Var(&bookClient, "client", 0, "client id (admins only)")
	}

	assignCmd := sessionCommand("assign", "Assign a trainer to a session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.AssignTrainer(cmd.Context(), id, assignTo)
	})
	assignCmd.Flags().Int64Var(&assignTo, "trainer", 0, "trainer id")
	_ = assignCmd.MarkFlagRequired("trainer")

	confirmCmd := sessionCommand("confirm", "Confirm a scheduled session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.ConfirmSession(cmd.Context(), id)
	})

	completeCmd := sessionCommand("complete", "Mark a session completed", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.CompleteSession(cmd.Context(), id, completeNote)
	})
	completeCmd.Flags().StringVar(&completeNote, "notes", "", "private completion notes")

	cancelCmd := sessionCommand("cancel", "Cancel a session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.CancelSession(cmd.Context(), id, cancelReason)
	})
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")

	showCmd := sessionCommand("show", "Show one session", func(cmd *cobra.Command, api *apiclient.Client, id int64) (*models.Session, error) {
		return api.GetSession(cmd.Context(), id)
	})

	rootCmd.AddCommand(listCmd, statsCmd, createCmd, recurringCmd,
		showCmd, bookCmd, requestCmd, assignCmd, confirmCmd, completeCmd, cancelCmd)
}

func listOptions() (apiclient.ListOptions, error) {
	opts := apiclient.ListOptions{Scope: listScope}
	if listStatus != "" {
		status, ok := models.ParseSessionStatus(listStatus)
		if !ok {
			return opts, fmt.Errorf("unknown status %q", listStatus)
		}
		opts.Status = status
	}
	if listTrainer > 0 {
		opts.TrainerID = &listTrainer
	}
	if listClient > 0 {
		opts.ClientID = &listClient
	}
	if listFrom != "" {
		from, err := parseTimeFlag(listFrom)
		if err != nil {
			return opts, fmt.Errorf("--from: %w", err)
		}
		opts.StartDate = &from
	}
	if listTo != "" {
		to, err := parseTimeFlag(listTo)
		if err != nil {
			return opts, fmt.Errorf("--to: %w", err)
		}
		opts.EndDate = &to
	}
	return opts, nil
}

// parseTimeFlag accepts RFC3339, a local date-time without zone, or a date.
func parseTimeFlag(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", value)
}

func printResult(w io.Writer, sessions []models.Session) error {
	if viper.GetBool("json") {
		return writeJSON(w, sessions)
	}
	printSessions(w, sessions, time.Local)
	return nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
