package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/erencivril/discord-archive-bot/internal/archive"
	"github.com/erencivril/discord-archive-bot/internal/archiver"
	"github.com/erencivril/discord-archive-bot/internal/config"
	"github.com/erencivril/discord-archive-bot/internal/logging"
)

func main() {
	startup := config.LoadStartup(".env")
	if err := startup.RequireArchiverCredentials(); err != nil {
		fmt.Printf("Startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitGlobalLogger(logging.LevelInfo, "archiver.log"); err != nil {
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

	// History reads go over REST only; no gateway connection is needed.
	sess, err := discordgo.New("Bot " + startup.ArchiveToken)
	if err != nil {
		fmt.Printf("Session init failed: %v\n", err)
		os.Exit(1)
	}

	history := archiver.NewDiscordHistory(sess, startup.ArchiveGuildID, startup.ArchiveChannelIDs)
	run := archiver.New(store, history, startup.ArchiveGuildID)

	fmt.Printf("Archiving guild %s...\n", startup.ArchiveGuildID)
	report, err := run.Run()
	if err != nil {
		fmt.Printf("Archive run failed: %v\n", err)
		os.Exit(1)
	}

	for _, cr := range report.Channels {
		switch {
		case cr.Forbidden:
			fmt.Printf("- #%s (%s): skipped, missing read access\n", cr.Channel.Name, cr.Channel.ID)
		case cr.Err != nil:
			fmt.Printf("- #%s (%s): aborted after %d added, %d skipped: %v\n",
				cr.Channel.Name, cr.Channel.ID, cr.Inserted, cr.Skipped, cr.Err)
		default:
			fmt.Printf("- #%s (%s): %d added, %d skipped\n",
				cr.Channel.Name, cr.Channel.ID, cr.Inserted, cr.Skipped)
		}
	}

	fmt.Println("--- Archiving Complete ---")
	fmt.Printf("Total messages added: %d\n", report.Inserted)
	fmt.Printf("Total messages skipped (duplicates): %d\n", report.Skipped)
	fmt.Printf("Duration: %s\n", report.Duration)

	store.AppendLog("INFO", "archive_run", "Bulk archive pass completed.", map[string]interface{}{
		"guild_id": startup.ArchiveGuildID,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
	})
}
