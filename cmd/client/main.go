// Command client is a terminal client for the realtime service: it
// connects with the full reconnection engine, subscribes to groups, prints
// everything the server pushes, and relays stdin lines to the assistant.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/api/ws"
	"github.com/threadhub/realtime/internal/client"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/stream", "WebSocket endpoint")
	user := flag.String("user", "", "user ID to announce")
	groups := flag.String("groups", "", "comma-separated group IDs to join")
	dev := flag.Bool("dev", true, "development logging")
	flag.Parse()

	var logger *logging.Logger
	if *dev {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	engine := client.New(client.Config{URL: *url}, logger)

	engine.OnStatus(func(status client.Status, detail client.StatusDetail) {
		logger.Info("status changed",
			zap.String("status", string(status)),
			zap.Bool("max_attempts_reached", detail.MaxAttemptsReached),
		)
	})

	for _, msgType := range []string{"NEW_POST", "NEW_COMMENT", "NEW_COMMUNITY", ws.TypeNewChat, ws.TypeBotChat} {
		mt := msgType
		engine.On(mt, func(payload []byte) {
			logger.Info("event received",
				zap.String("type", mt),
				zap.ByteString("payload", payload),
			)
		})
	}

	if err := engine.Connect(); err != nil {
		logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}

	if *user != "" {
		engine.SetUser(*user)
		engine.JoinGeneralFeed()
		for _, groupID := range strings.Split(*groups, ",") {
			if groupID = strings.TrimSpace(groupID); groupID != "" {
				engine.JoinGroup(groupID)
			}
		}
	}

	// Stdin lines become assistant questions; /quit leaves cleanly.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				engine.Disconnect()
				os.Exit(0)
			}
			if line == "/stats" {
				stats, _ := json.Marshal(engine.Stats())
				logger.Info("engine stats", zap.ByteString("stats", stats))
				continue
			}
			if *user == "" {
				logger.Warn("no user set, pass -user to chat")
				continue
			}
			engine.AskBot(*user, line)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	engine.Disconnect()
}
