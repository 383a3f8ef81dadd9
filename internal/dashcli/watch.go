package dashcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/apiclient"
	"github.com/saeid-a/StudioScheduleBack/internal/dashboard"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/syncclient"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow session changes in real time",
	Long: `Connect to the sync channel and print every session change visible to
the token's role. The local view is re-seeded from a list query after every
(re)connect, so changes missed while offline still show up.`,
	RunE: runWatch,
}

var (
	watchTrainer int64
	watchClient  int64
)

func init() {
	watchCmd.Flags().Int64Var(&watchTrainer, "trainer", 0, "only follow this trainer's sessions")
	watchCmd.Flags().Int64Var(&watchClient, "client", 0, "only follow this client's sessions")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := newLogger()
	api, err := newAPIClient(log)
	if err != nil {
		return err
	}
	wsURL, err := syncURL(viper.GetString("ws_url"), viper.GetString("api_url"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &watcher{
		out:        cmd.OutOrStdout(),
		api:        api,
		reconciler: dashboard.NewReconciler(),
		states:     make(chan syncclient.State, 1),
		log:        log,
		filter:     listFilter(),
	}

	channel, err := syncclient.New(syncclient.Config{
		URL:            wsURL,
		Token:          viper.GetString("token"),
		InitialBackoff: viper.GetDuration("reconnect.initial_backoff"),
		MaxBackoff:     viper.GetDuration("reconnect.max_backoff"),
		MaxAttempts:    viper.GetInt("reconnect.max_attempts"),
		PingInterval:   viper.GetDuration("reconnect.ping_interval"),
		Log:            log,
	}, func(event models.SessionEvent) {
		w.reconciler.Apply(event)
	}, w.onStatus)
	if err != nil {
		return err
	}

	if sub, ok := subscription(); ok {
		_ = channel.Subscribe(sub)
	}
	channel.Connect()
	defer channel.Disconnect()

	return w.run(ctx)
}

func subscription() (syncclient.Subscription, bool) {
	var sub syncclient.Subscription
	if watchTrainer > 0 {
		sub.TrainerID = &watchTrainer
	}
	if watchClient > 0 {
		sub.ClientID = &watchClient
	}
	return sub, sub.TrainerID != nil || sub.ClientID != nil
}

func listFilter() apiclient.ListOptions {
	var opts apiclient.ListOptions
	if watchTrainer > 0 {
		opts.TrainerID = &watchTrainer
	}
	if watchClient > 0 {
		opts.ClientID = &watchClient
	}
	return opts
}

type watcher struct {
	out        io.Writer
	api        *apiclient.Client
	reconciler *dashboard.Reconciler
	states     chan syncclient.State
	log        *logger.Logger
	filter     apiclient.ListOptions
}

// onStatus runs under the channel's lock; it only records and forwards.
func (w *watcher) onStatus(state syncclient.State) {
	w.reconciler.SetConnected(state == syncclient.StateConnected)
	select {
	case <-w.states:
	default:
	}
	w.states <- state
}

func (w *watcher) run(ctx context.Context) error {
	notifications := w.reconciler.Notifications()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w.out, dimStyle.Render("stopped"))
			return nil

		case state := <-w.states:
			fmt.Fprintf(w.out, "%s %s\n", badge(state), dimStyle.Render(time.Now().Format("15:04:05")))
			switch state {
			case syncclient.StateConnected:
				w.seed(ctx)
			case syncclient.StateExhausted:
				return fmt.Errorf("sync channel disconnected after %d attempts", viper.GetInt("reconnect.max_attempts"))
			case syncclient.StateDisconnected:
				return nil
			}

		case n := <-notifications:
			fmt.Fprintf(w.out, "%s %s %s\n",
				dimStyle.Render(n.Timestamp.Local().Format("15:04:05")),
				renderStatus(n.Status),
				n.Message,
			)
		}
	}
}

func (w *watcher) seed(ctx context.Context) {
	mark := w.reconciler.Mark()
	sessions, err := w.api.ListSessions(ctx, w.filter)
	if err != nil {
		w.log.Warn("seed after connect failed", "error", err)
		fmt.Fprintln(w.out, warningStyle.Render("could not refresh sessions: "+err.Error()))
		return
	}
	seeded := w.reconciler.Seed(sessions, mark)
	w.log.Debug("seeded sessions", "received", len(sessions), "applied", seeded)
	stats := w.reconciler.Stats()
	fmt.Fprintf(w.out, "%s %d sessions, %d upcoming, last sync %s\n",
		dimStyle.Render("synced"),
		stats.Total,
		stats.Upcoming,
		w.reconciler.LastSync().Format("15:04:05"),
	)
}
