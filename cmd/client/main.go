package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/room-chat/internal/client"
	"github.com/omochice/room-chat/internal/client/ws"
	"github.com/omochice/room-chat/internal/config"
	"github.com/omochice/room-chat/internal/render"
)

var rootCmd = &cobra.Command{
	Use:   "room-client",
	Short: "Terminal client for the chat room",
	RunE:  runClient,
}

var (
	flagServer   string
	flagName     string
	flagPoll     bool
	flagLogLevel string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagServer, "server", "", "server base URL, e.g. ws://localhost:8080 (overrides ROOM_SERVER)")
	flags.StringVar(&flagName, "name", "", "display name; prompted for when empty (overrides ROOM_NAME)")
	flags.BoolVar(&flagPoll, "poll", false, "read-only mode that polls the message log instead of joining")
	flags.StringVar(&flagLogLevel, "log-level", "", "trace, debug, info, warn or error (overrides ROOM_LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute client command")
	}
}

func loadConfig(cmd *cobra.Command) (config.Client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = flagServer
	}
	if flags.Changed("name") {
		cfg.Name = flagName
	}
	if flags.Changed("poll") {
		cfg.Poll = flagPoll
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, cfg.Validate()
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(config.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if cfg.Poll {
		return poll(ctx, cfg, out)
	}

	lines := readLines(cmd.InOrStdin())
	name := cfg.Name
	for {
		if name == "" {
			if name, err = prompt(ctx, out, lines); err != nil {
				return nil
			}
		}

		c, err := client.Join(ctx, ws.Dialer(cfg.Server), name, render.New(), &terminal{w: out})
		switch {
		case errors.Is(err, client.ErrNameConflict):
			fmt.Fprintf(out, "*** %q is taken or not allowed, pick another name\n", name)
			name = ""
			continue
		case errors.Is(err, client.ErrRateLimited):
			fmt.Fprintln(out, "*** too many join attempts, retrying shortly")
			if !sleep(ctx, 5*time.Second) {
				return nil
			}
			continue
		case err != nil:
			return err
		}

		fmt.Fprintf(out, "*** joined as %s; type /quit to leave\n", name)
		err = chat(ctx, c, lines, out)
		if errors.Is(err, client.ErrTokenInvalid) {
			fmt.Fprintln(out, "*** session rejected by server, joining again")
			continue
		}
		return err
	}
}

// chat pumps input lines into c until the user quits or the session ends.
func chat(ctx context.Context, c *client.Client, lines <-chan string, out io.Writer) error {
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			_ = c.Leave(context.Background())
			return nil
		case err := <-runErr:
			if errors.Is(err, client.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				_ = c.Leave(ctx)
				return <-runErr
			}
			err := c.Send(ctx, line)
			switch {
			case err == nil, errors.Is(err, client.ErrValidation):
			case errors.Is(err, client.ErrNotReady):
				fmt.Fprintln(out, "*** still connecting, message not sent")
			default:
				fmt.Fprintf(out, "*** send failed: %v\n", err)
			}
		}
	}
}

func poll(ctx context.Context, cfg config.Client, out io.Writer) error {
	base, err := httpBase(cfg.Server)
	if err != nil {
		return err
	}
	rec := client.NewReconciler(cfg.Name, render.New(), &terminal{w: out})
	err = client.NewPoller(base, rec, cfg.PollInterval).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func httpBase(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String(), nil
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func prompt(ctx context.Context, out io.Writer, lines <-chan string) (string, error) {
	for {
		fmt.Fprint(out, "name: ")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return "", io.EOF
			}
			if name := strings.TrimSpace(line); name != "" {
				return name, nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// terminal prints reconciled room state as plain lines.
type terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *terminal) Append(e client.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stamp := e.Time.Local().Format("15:04")
	switch e.Kind {
	case client.EntryNotice:
		fmt.Fprintf(t.w, "[%s] *** %s\n", stamp, e.Raw)
	case client.EntrySelf:
		fmt.Fprintf(t.w, "[%s] (you) %s\n", stamp, e.Raw)
	default:
		fmt.Fprintf(t.w, "[%s] %s: %s\n", stamp, e.Author, e.Raw)
	}
}

func (t *terminal) Roster(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(names) == 0 {
		fmt.Fprintln(t.w, "-- nobody else is here")
		return
	}
	fmt.Fprintf(t.w, "-- online: %s\n", strings.Join(names, ", "))
}

func (t *terminal) Notice(n client.Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch n.Kind {
	case client.NoticeRateLimited:
		fmt.Fprintf(t.w, "*** slow down: %s\n", n.Text)
	case client.NoticeValidation:
		fmt.Fprintf(t.w, "*** not sent: %s\n", n.Text)
	case client.NoticeDisconnected:
		fmt.Fprintf(t.w, "*** disconnected: %s\n", n.Text)
	default:
		fmt.Fprintf(t.w, "*** %s\n", n.Text)
	}
}
