// ABOUTME: Terminal chat client for the chatsync gateway
// ABOUTME: Opens one conversation, tails it live and sends from stdin

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/mentorhq/chatsync/internal/client"
	"github.com/mentorhq/chatsync/internal/event"
)

var (
	peerColor   = color.New(color.FgCyan)
	selfColor   = color.New(color.FgGreen)
	faintColor  = color.New(color.FgHiBlack)
	systemColor = color.New(color.FgYellow)
)

// printer serializes terminal output across callback goroutines and keeps
// track of which messages are already on screen.
type printer struct {
	mu      sync.Mutex
	printed map[string]struct{}
}

func newPrinter() *printer {
	return &printer{printed: make(map[string]struct{})}
}

// renderNew prints any messages not yet on screen, in view order.
func (p *printer) renderNew(messages []client.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range messages {
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		printMessage(m)
	}
}

func (p *printer) system(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	systemColor.Printf("  * "+format+"\n", args...)
}

func printMessage(m client.Message) {
	ts := faintColor.Sprint(m.CreatedAt.Local().Format("15:04"))
	fmt.Printf("%s %s %s\n", ts, peerColor.Sprintf("%s:", m.Sender), m.Content)
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to CLI config file")
	peer := flag.String("peer", "", "User to chat with")
	flag.Parse()

	if err := run(*configPath, *peer); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, peer string) error {
	if peer == "" {
		return fmt.Errorf("--peer is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rest := client.NewREST(cfg.Gateway.URL, cfg.Gateway.Token)
	channel := client.NewChannel(client.DefaultChannelConfig(cfg.wsURL(), cfg.Gateway.Token))
	syncer := client.NewSynchronizer(rest, channel, logger)
	defer syncer.Shutdown()
	defer channel.Close()

	conv, err := rest.CreateConversation(ctx, peer)
	if err != nil {
		return fmt.Errorf("opening conversation with %s: %w", peer, err)
	}

	out := newPrinter()
	syncer.OnUpdate(func(conversationID string) {
		out.renderNew(syncer.Messages(conversationID))
	})
	syncer.OnTyping(func(_, userID string, typing bool) {
		if typing {
			out.system("%s is typing...", userID)
		}
	})
	syncer.OnRead(func(r event.ReadReceipt) {
		out.system("%s read the conversation", r.UserID)
	})
	syncer.OnError(func(err error) {
		out.system("error: %v", err)
	})
	channel.OnStateChange(func(ev client.StateEvent) {
		switch ev.NewState {
		case client.StateReconnecting:
			out.system("connection lost, reconnecting...")
		case client.StateConnected:
			if ev.OldState == client.StateReconnecting {
				out.system("reconnected")
			}
		case client.StateDisconnected:
			out.system("disconnected")
		}
	})

	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting event channel: %w", err)
	}

	if cfg.Chat.HistoryLimit > 0 {
		syncer.SetPageLimit(cfg.Chat.HistoryLimit)
	}
	if err := syncer.Open(ctx, conv.ID); err != nil {
		return fmt.Errorf("syncing conversation: %w", err)
	}

	faintColor.Printf("chatting with %s - /read marks read, /quit exits\n", peer)

	// Everything visible so far counts as read.
	if _, err := syncer.MarkRead(ctx, conv.ID); err != nil {
		out.system("mark read failed: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/read":
				result, err := syncer.MarkRead(ctx, conv.ID)
				if err != nil {
					out.system("mark read failed: %v", err)
					continue
				}
				out.system("marked %d messages read", result.Count)
			default:
				sendCtx, sendCancel := context.WithTimeout(ctx, 10*time.Second)
				msg, err := syncer.Send(sendCtx, conv.ID, line)
				sendCancel()
				if err != nil {
					out.system("send failed: %v", err)
					continue
				}
				selfColor.Printf("  ✓ sent %s\n", faintColor.Sprint(msg.CreatedAt.Local().Format("15:04:05")))
			}
		}
	}
}
