package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wainbox/server/internal/auth"
	"wainbox/server/internal/database"
	"wainbox/server/internal/handlers"
	"wainbox/server/internal/metrics"
	"wainbox/server/internal/models"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/session"
	"wainbox/server/internal/store"
)

var (
	tailToken string
	tailSend  string
)

func init() {
	tailCmd.Flags().StringVar(&tailToken, "token", "", "access token for the change feed (default is the service key)")
	tailCmd.Flags().StringVar(&tailSend, "send", "", "send this text once the thread is loaded")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [wa_id]",
	Short: "Open a conversation and print its events as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		waID, err := models.ParseWaID(args[0])
		if err != nil {
			return err
		}
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pool, err := database.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		st := store.New(pool)
		token := tailToken
		if token == "" {
			token = cfg.Supabase.ServiceKey
		}

		factory := &handlers.ViewFactory{
			RealtimeURL: cfg.RealtimeURL(),
			APIKey:      cfg.Supabase.AnonKey,
			Metrics:     metrics.New(nil),
			Log:         log,
			Deps: session.Deps{
				Messages: st,
				Contacts: st,
				Marker:   st,
				Sender:   sender.New(cfg.Sender.URL, cfg.Sender.Token, cfg.Sender.Timeout),
				PageSize: cfg.Inbox.PageSize,
				Window:   cfg.Inbox.ConversationWindow,
			},
		}

		events := make(chan session.Event, 64)
		conv, err := factory.Start(ctx, &auth.Session{UserID: "cli", AccessToken: token}, func(ev session.Event) {
			select {
			case events <- ev:
			default:
				log.Warn("tail_event_dropped", zap.String("type", string(ev.Type)))
			}
		})
		if err != nil {
			return err
		}
		if err := conv.Open(waID); err != nil {
			return err
		}
		return printEvents(ctx, events, conv, tailSend)
	},
}

func printEvents(ctx context.Context, events <-chan session.Event, conv *handlers.Conversation, text string) error {
	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conv.Done():
			return nil
		case ev := <-events:
			if err := enc.Encode(ev); err != nil {
				return err
			}
			if ev.Type == session.EventThreadLoaded && text != "" {
				if _, err := conv.Send(session.SendRequest{Text: text}); err != nil {
					return err
				}
				text = ""
			}
		}
	}
}
