package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantdeck/assistant/internal/api"
	"github.com/quantdeck/assistant/internal/chat"
	"github.com/quantdeck/assistant/internal/config"
	"github.com/quantdeck/assistant/internal/logging"
	"github.com/quantdeck/assistant/internal/monitoring"
)

func main() {
	gateway := flag.String("gateway", "", "Gateway base URL (overrides GATEWAY_URL)")
	wsURL := flag.String("ws", "", "Gateway websocket URL (overrides GATEWAY_WS_URL)")
	model := flag.String("model", "", "Generation model (overrides CHAT_MODEL)")
	sessionID := flag.String("session", "", "Resume an existing session id")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *gateway != "" {
		cfg.Gateway.BaseURL = *gateway
	}
	if *wsURL != "" {
		cfg.Gateway.WSURL = *wsURL
	}
	if *model != "" {
		cfg.Chat.Model = *model
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	// Keep stdout clean for the streamed conversation.
	logCfg.OutputPaths = []string{"stderr"}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// One explicitly constructed client per process; nothing below reaches
	// for ambient globals.
	metrics := monitoring.New(prometheus.NewRegistry())
	restClient := api.New(cfg.Gateway.BaseURL, logger)
	dispatcher := chat.NewDispatcher(logger, metrics)
	channel := chat.NewChannel(cfg.Gateway.WSURL, cfg.Chat, dispatcher, logger, metrics)
	reconciler := chat.NewReconciler(channel, restClient, cfg.Chat, logger, metrics)

	dispatcher.SetHandlers(reconciler.Handlers())
	channel.SetOnStateChange(reconciler.HandleTransportState)
	channel.SetOnReconnected(func() {
		if err := reconciler.RequestHistory(); err != nil {
			logger.Warn("history resync request failed")
		}
	})

	out := newStreamPrinter(os.Stdout)
	reconciler.SetOnUpdate(out.Update)
	reconciler.SetNotifier(func(n chat.Notification) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Level, n.Text)
	})

	if *sessionID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Chat.ConnectTimeout)
		if _, err := channel.Connect(ctx, *sessionID, cfg.Chat.Model); err != nil {
			cancel()
			log.Fatalf("Failed to resume session %s: %v", *sessionID, err)
		}
		cancel()
		if err := reconciler.RequestHistory(); err != nil {
			logger.Warn("initial history request failed")
		}
	}

	// First Ctrl-C cancels the in-flight generation, second one exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		_ = reconciler.Cancel()
		<-sigChan
		reconciler.Disconnect()
		os.Exit(0)
	}()

	fmt.Println("QuantDeck assistant. Type a question, /<skill> <text> for skills, /status, /quit.")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/quit" {
			break
		}
		if line == "/status" {
			fmt.Printf("session=%s state=%s uptime=%s\n",
				reconciler.SessionID(), reconciler.State(), metrics.Uptime().Round(time.Second))
			fmt.Print("> ")
			continue
		}

		text, skill := splitSkill(line)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := reconciler.Send(ctx, text, nil, skill)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			fmt.Print("> ")
		}
	}

	reconciler.Disconnect()
}

// splitSkill peels a leading slash command off the input line.
func splitSkill(line string) (text, skill string) {
	if !strings.HasPrefix(line, "/") {
		return line, ""
	}
	rest := line[1:]
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return "", rest
	}
	return strings.TrimSpace(rest[i+1:]), rest[:i]
}

// streamPrinter writes assistant output incrementally as snapshots arrive.
// Messages are keyed by list position, which is stable: the reconciler
// appends and mutates in place but never reorders.
type streamPrinter struct {
	w *os.File

	mu      sync.Mutex
	printed map[int]int
	done    map[int]bool
}

func newStreamPrinter(w *os.File) *streamPrinter {
	return &streamPrinter{
		w:       w,
		printed: make(map[int]int),
		done:    make(map[int]bool),
	}
}

// Update prints newly arrived assistant content. Only the delta since the
// last snapshot is written, so token streaming renders progressively.
func (p *streamPrinter) Update(origin chat.UpdateOrigin, snap chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(snap.Messages) < len(p.printed) {
		// Full replacement snapshot shrank the list; start over.
		p.printed = make(map[int]int)
		p.done = make(map[int]bool)
	}

	for i, m := range snap.Messages {
		if m.Role != chat.RoleAssistant || p.done[i] {
			continue
		}
		if n := p.printed[i]; len(m.Content) > n {
			fmt.Fprint(p.w, m.Content[n:])
			p.printed[i] = len(m.Content)
		}
		if m.Status.Terminal() {
			p.done[i] = true
			fmt.Fprintln(p.w)
			fmt.Fprint(p.w, "> ")
		}
	}
}
