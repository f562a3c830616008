package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/chatsession"
)

func newChatCommand(g *Globals) *cobra.Command {
	var (
		chatID string
		render bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Long: "Reads questions from stdin and prints the transcript as it changes, including " +
			"messages pushed by other clients. Commands: /open ID, /new, /chats, /quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), g, os.Stdin, cmd.OutOrStdout(), chatID, render)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Open this chat on start")
	cmd.Flags().BoolVar(&render, "render", stdoutIsTerminal(), "Render answers as markdown")
	return cmd
}

func runChat(ctx context.Context, g *Globals, in io.Reader, out io.Writer, chatID string, render bool) error {
	s, err := g.Settings()
	if err != nil {
		return err
	}
	gw, err := g.Gateway()
	if err != nil {
		return err
	}
	store, err := g.Store()
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}
	conn, err := g.Conn()
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		// the session still works over HTTP alone
		log.Warn().Err(err).Msg("realtime channel unavailable")
	}
	defer conn.Disconnect()

	p := &transcriptPrinter{out: out, render: render}
	opts := []chatsession.Option{
		chatsession.WithPageSize(s.MessagePageSize),
		chatsession.WithOnChange(p.update),
		chatsession.WithNavigator(func(route string) {
			printNotice(out, "now in %s", route)
		}),
	}
	if store != nil {
		opts = append(opts, chatsession.WithStore(store))
	}
	c := chatsession.New(gw, conn, opts...)
	defer c.Close()
	log.Debug().Str("session_id", c.SessionID()).Msg("chat session started")

	if chatID != "" {
		// load failures surface through the snapshot
		_ = c.Open(ctx, chatID)
	}
	printNotice(out, "type a question, or /open ID, /new, /chats, /quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, g, c, out, line)
			if err != nil {
				printError(out, err)
			}
			if quit {
				return nil
			}
			continue
		}
		if _, err := c.Send(ctx, line); err != nil && unrecorded(err) {
			printError(out, err)
		}
	}
}

func chatCommand(ctx context.Context, g *Globals, c *chatsession.Coordinator, out io.Writer, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		return false, c.Open(ctx, "")
	case "/open":
		if len(fields) != 2 {
			return false, errors.New("usage: /open ID")
		}
		_ = c.Open(ctx, fields[1])
		return false, nil
	case "/chats":
		l, closeStore, err := chatList(g)
		if err != nil {
			return false, err
		}
		defer closeStore()
		if err := l.Load(ctx); err != nil && len(l.Chats()) == 0 {
			return false, err
		}
		for _, chat := range l.Chats() {
			_, _ = fmt.Fprintf(out, "  %s  %s\n", chat.ID, chat.Title)
		}
		return false, nil
	default:
		return false, errors.Errorf("unknown command %s", fields[0])
	}
}

// unrecorded reports whether a Send error was rejected before it reached the
// snapshot.
func unrecorded(err error) bool {
	return errors.Is(err, chatsession.ErrEmptyMessage) ||
		errors.Is(err, chatsession.ErrSendInFlight) ||
		errors.Is(err, chatsession.ErrClosed)
}

// transcriptPrinter prints each transcript entry once. An entry confirmed by
// the server keeps its attempt token, so an echo of a sent message is not
// printed again.
type transcriptPrinter struct {
	out    io.Writer
	render bool

	mu      sync.Mutex
	chatID  string
	printed map[string]bool
	titled  bool
	lastErr error
	status  string
}

func entryKey(e chatsession.Entry) string {
	if e.Attempt != 0 {
		return fmt.Sprintf("%s-%d", e.Role, e.Attempt)
	}
	return e.ID
}

func (p *transcriptPrinter) update(s chatsession.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.printed == nil || s.ChatID != p.chatID {
		// a freshly adopted chat keeps what was already printed
		if p.printed == nil || p.chatID != "" {
			p.printed = map[string]bool{}
		}
		p.chatID = s.ChatID
		p.titled = false
	}
	if !p.titled && s.Chat != nil && s.Chat.Title != "" {
		p.titled = true
		printNotice(p.out, "chat %s: %s", s.ChatID, s.Chat.Title)
	}

	for _, e := range s.Messages {
		k := entryKey(e)
		if p.printed[k] {
			continue
		}
		// what the user typed is already on screen
		if e.Role == chatapi.RoleUser && e.Attempt != 0 {
			p.printed[k] = true
			continue
		}
		// answers are printed once the request returns
		if e.Origin == chatsession.OriginLocal {
			continue
		}
		p.printed[k] = true
		printMessage(p.out, e.Message, p.render)
	}

	if s.Status != p.status && s.StatusMessage != "" && s.Status != chatapi.StatusError {
		printNotice(p.out, "%s: %s", s.Status, s.StatusMessage)
	}
	p.status = s.Status

	if s.LastError != nil && s.LastError != p.lastErr {
		printError(p.out, s.LastError)
	}
	p.lastErr = s.LastError
}
