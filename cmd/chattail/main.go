// chattail connects to the realtime feed, prints every pushed message and
// sends each stdin line as a chat message.
// Usage: go run ./cmd/chattail -user u1 [-agent market] [-config configs/dashfeed.example.yaml]
//
// The feed address comes from the config file, then TRADEIQ_WS_URL, then
// ws://localhost:8000/ws.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tradeiq/dashfeed/internal/config"
	"github.com/tradeiq/dashfeed/internal/realtime"
)

func main() {
	configPath := flag.String("config", "", "optional path to config file")
	userID := flag.String("user", "", "user id sent with the connection")
	agent := flag.String("agent", "", "agent type for outgoing messages (market, behavior, content)")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg := realtime.DefaultConfig()
	if *configPath != "" {
		fileCfg, err := config.LoadAndValidate(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		rc := fileCfg.Realtime
		cfg.BaseURL = rc.BaseURL
		cfg.Path = rc.Path
		cfg.UserID = rc.UserID
		cfg.MaxReconnectAttempts = rc.MaxReconnectAttempts
		cfg.ReconnectBaseDelay = rc.ReconnectBaseDelay
		cfg.ReconnectMaxDelay = rc.ReconnectMaxDelay
		cfg.HandshakeTimeout = rc.HandshakeTimeout
		cfg.WriteTimeout = rc.WriteTimeout
		cfg.PingInterval = rc.PingInterval
	}
	if *userID != "" {
		cfg.UserID = *userID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client := realtime.New(cfg, realtime.WithLogger(logger))
	defer client.Close()

	client.OnStatusChange(func(s realtime.Status) {
		fmt.Printf("[STATUS] %s\n", s)
	})
	client.OnMessage(func(msg *realtime.InboundMessage) {
		printMessage(msg, *verbose)
	})

	fmt.Printf("connecting to %s\n", client.Target())
	client.Connect()

	// Stdin reader
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
			client.Disconnect()
			return
		case line, ok := <-lines:
			if !ok {
				// Give in-flight replies a moment before leaving.
				time.Sleep(500 * time.Millisecond)
				client.Disconnect()
				return
			}
			if handleLine(client, strings.TrimSpace(line), *agent) {
				client.Disconnect()
				return
			}
		}
	}
}

// handleLine sends text as a chat message. "/reconnect", "/status" and
// "/quit" are local commands; it returns true on "/quit".
func handleLine(client *realtime.Client, line, agent string) (quit bool) {
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/reconnect":
		client.Disconnect()
		client.Connect()
		return false
	case "/status":
		fmt.Printf("[STATUS] %s\n", client.Status())
		return false
	}

	if client.Status() != realtime.StatusConnected {
		fmt.Printf("[DROPPED] not connected (%s)\n", client.Status())
		return false
	}

	msg := realtime.NewChatMessage(line)
	msg.AgentType = agent
	client.SendChat(msg)
	return false
}

func printMessage(msg *realtime.InboundMessage, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(msg.Fields, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), data)
		return
	}

	switch msg.Type {
	case realtime.TypeThinking:
		fmt.Println("[THINKING] ...")
	case realtime.TypeSystem, realtime.TypeReply:
		fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), msg.Text())
	default:
		data, _ := json.Marshal(msg.Fields)
		fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), data)
	}
}
