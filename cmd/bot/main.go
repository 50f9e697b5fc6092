package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erencivril/discord-archive-bot/internal/archive"
	"github.com/erencivril/discord-archive-bot/internal/bot"
	"github.com/erencivril/discord-archive-bot/internal/config"
	"github.com/erencivril/discord-archive-bot/internal/decision"
	"github.com/erencivril/discord-archive-bot/internal/logging"
	"github.com/erencivril/discord-archive-bot/internal/openrouter"
)

const configRefreshInterval = 30 * time.Second

func main() {
	startup := config.LoadStartup(".env")
	if err := startup.RequireBotCredentials(); err != nil {
		fmt.Printf("Startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitGlobalLogger(logging.LevelInfo, "bot.log"); err != nil {
		fmt.Printf("Logging init failed: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseGlobalLogger()

	store, err := archive.Open(startup.DatabasePath)
	if err != nil {
		fmt.Printf("Database init failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	cfgStore := config.NewStore(".env")
	snap := cfgStore.Snapshot()
	logging.Info("Probabilities: Archive=%.0f%%, AI=%.0f%%", snap.ProbArchiveReply*100, snap.ProbAIReply*100)
	if snap.ProbSumExceedsOne() {
		logging.Warn("Sum of PROB_ARCHIVE_REPLY and PROB_AI_REPLY exceeds 1.0; the no-action band is eliminated")
	}
	if snap.OwnerID == "" {
		logging.Warn("BOT_OWNER_ID is not set; delete command and voice protection are inactive")
	}

	gen := openrouter.New(startup.OpenRouterKey, snap.ChatModel, startup.Temperature, startup.SiteURL, startup.AppName)
	engine := decision.NewEngine(store, gen, store, nil)
	cooldown := decision.NewCooldownTracker(nil)

	sess, err := bot.NewSession(startup.Token)
	if err != nil {
		fmt.Printf("Session init failed: %v\n", err)
		os.Exit(1)
	}

	handlers := bot.NewHandlers(store, engine, gen, cooldown, cfgStore, sess)
	handlers.Register(sess)

	if err := sess.Open(); err != nil {
		fmt.Printf("Discord connection failed: %v\n", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	go cfgStore.Watch(configRefreshInterval, stop)

	logging.Info("Bot running")
	waitForShutdown()

	close(stop)
	sess.Close()
	store.AppendLog("INFO", "bot_shutdown", "Bot shutting down.", nil)
	logging.Info("Shutdown complete")
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutdown signal received")
}
