package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"slotboard/board"
	"slotboard/client"
	"slotboard/domain"
)

type options struct {
	apiURL      string
	token       string
	localSecret string
	user        string
	tenant      string
	teams       string
	people      string
	columns     int
	logFile     string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "board-tui",
		Short: "Interactive terminal slot board",
		Long: `board-tui renders the initiative slot board in the terminal.

Drag a card with the mouse to move it into an empty slot or swap it with
another initiative. Filters make the board read-only.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.apiURL, "api", envOr("SLOTBOARD_API", "http://localhost:8080"), "slot board API base URL")
	f.StringVar(&o.token, "token", os.Getenv("SLOTBOARD_TOKEN"), "bearer token")
	f.StringVar(&o.localSecret, "local-secret", os.Getenv("LOCAL_AUTH_SHARED_SECRET"), "sign a local HS256 token with this secret when --token is empty")
	f.StringVar(&o.user, "user", envOr("SLOTBOARD_USER", "local-user"), "user for local tokens")
	f.StringVar(&o.tenant, "tenant", os.Getenv("SLOTBOARD_TENANT"), "tenant for local tokens")
	f.StringVar(&o.teams, "teams", "", "comma separated team IDs to filter by")
	f.StringVar(&o.people, "people", "", "comma separated person IDs to filter by")
	f.IntVar(&o.columns, "columns", 4, "cards per row")
	f.StringVar(&o.logFile, "log-file", os.Getenv("SLOTBOARD_LOG_FILE"), "write logs to this file")
	return cmd
}

func run(ctx context.Context, o *options) error {
	logger := log.New()
	logger.SetOutput(io.Discard)
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	token := o.token
	if token == "" && o.localSecret != "" {
		tok, err := client.LocalToken(o.localSecret, o.user, o.tenant, 0)
		if err != nil {
			return err
		}
		token = tok
	}
	c := client.New(o.apiURL, token)

	view, err := c.FetchBoard(ctx, domain.Filters{})
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}

	notices := make(chan board.Notice, 16)
	notifier := board.NotifierFunc(func(n board.Notice) {
		select {
		case notices <- n:
		default:
			logger.WithField("title", n.Title).Warn("notice dropped")
		}
	})

	b := board.New(c, notifier, view.TotalSlots)
	b.SetInitiatives(client.InitiativesFromView(view))
	b.SetFilters(domain.ParseFilters(o.teams, o.people))
	b.SetRevalidator(&client.Revalidator{Client: c, Target: b, Logger: logger})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan []domain.Initiative, 1)
	go func() {
		err := c.Watch(ctx, domain.Filters{}, func(v domain.BoardView) {
			select {
			case updates <- client.InitiativesFromView(v):
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("board stream stopped")
		}
	}()

	m := newModel(ctx, b, defaultLayout(o.columns), notices, updates, c.FetchInitiatives)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
