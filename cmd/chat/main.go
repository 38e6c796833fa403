// The chat binary is a minimal terminal client: it streams answers from
// the chat server and keeps conversation history through the history
// store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"chatrelay/backend/internal/app"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/history"
	"chatrelay/backend/internal/model"
	"chatrelay/backend/internal/session"
	"chatrelay/backend/internal/stream"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	app.SetupLogger(cfg.LogLevel)

	historyClient := history.NewClient(cfg.HistoryStoreURL)
	streamClient := stream.NewClient(cfg.ChatServerURL)

	sess := session.New(cfg.ChatUserID, historyClient, session.StreamerFunc(
		func(ctx context.Context, query string, hist []model.HistoryItem) (session.ChunkStream, error) {
			return streamClient.Open(ctx, query, hist)
		},
	))

	out := &printer{}
	sess.OnChange(out.render)

	ctx := context.Background()
	if err := sess.Load(ctx); err != nil {
		slog.Warn("Could not load conversation list; starting fresh", "error", err)
	}

	fmt.Println("chatrelay terminal client. Commands: /new /list /open <n> /delete <n> /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, sess, line); quit {
				return 0
			}
			continue
		}

		if err := sess.Submit(ctx, line); err != nil {
			// The session already surfaced the failure as an in-chat
			// error notice; nothing more to print here.
			slog.Debug("Turn failed", "error", err)
		}
		fmt.Println()
	}

	return 0
}

func runCommand(ctx context.Context, sess *session.Session, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/new":
		sess.NewChat()
		fmt.Println("Started a new chat.")
	case "/list":
		conversations := sess.Conversations()
		if len(conversations) == 0 {
			fmt.Println("No conversations yet.")
			return false
		}
		for i, c := range conversations {
			fmt.Printf("%2d. %s (%s)\n", i+1, c.Title, c.Timestamp.Format("2006-01-02 15:04"))
		}
	case "/open":
		if c, ok := pickConversation(sess, fields); ok {
			if err := sess.SelectConversation(ctx, c.ID); err != nil {
				fmt.Printf("Could not open %q: %v\n", c.Title, err)
				return false
			}
			fmt.Printf("Opened %q.\n", c.Title)
			for _, m := range sess.Messages() {
				fmt.Printf("[%s] %s\n", m.Role, m.Content)
			}
		}
	case "/delete":
		if c, ok := pickConversation(sess, fields); ok {
			if err := sess.DeleteConversation(ctx, c.ID); err != nil {
				fmt.Printf("Could not delete %q: %v\n", c.Title, err)
				return false
			}
			fmt.Printf("Deleted %q.\n", c.Title)
		}
	default:
		fmt.Printf("Unknown command %s\n", fields[0])
	}
	return false
}

func pickConversation(sess *session.Session, fields []string) (model.Conversation, bool) {
	if len(fields) < 2 {
		fmt.Printf("Usage: %s <number from /list>\n", fields[0])
		return model.Conversation{}, false
	}
	n, err := strconv.Atoi(fields[1])
	conversations := sess.Conversations()
	if err != nil || n < 1 || n > len(conversations) {
		fmt.Printf("No such conversation: %s\n", fields[1])
		return model.Conversation{}, false
	}
	return conversations[n-1], true
}

// printer turns message-list snapshots into incremental terminal output:
// it prints only the suffix of the last assistant message that has not
// been printed yet, so a streaming answer appears token by token.
type printer struct {
	mu      sync.Mutex
	lastID  string
	printed int
}

func (p *printer) render(messages []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	switch last.Role {
	case model.RoleError:
		if last.ID != p.lastID {
			p.lastID = last.ID
			fmt.Printf("\n[error] %s\n", last.Content)
		}
	case model.RoleAssistant:
		if last.ID != p.lastID {
			p.lastID = last.ID
			p.printed = 0
		}
		if len(last.Content) > p.printed {
			fmt.Print(last.Content[p.printed:])
			p.printed = len(last.Content)
		}
	}
}
