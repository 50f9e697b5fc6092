package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Startup holds options read once at process start. Unlike Snapshot fields
// these never change at runtime.
type Startup struct {
	Token         string
	OpenRouterKey string
	DatabasePath  string
	Temperature   float64
	SiteURL       string
	AppName       string

	// Archiver-only fields.
	ArchiveToken      string
	ArchiveGuildID    string
	ArchiveChannelIDs []string
}

// LoadStartup reads the .env file (if present) and the environment. Missing
// optional values fall back to defaults; required-credential checks belong to
// the entrypoints, which know which binary they are.
func LoadStartup(envPath string) *Startup {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	st := &Startup{
		Token:         os.Getenv("DISCORD_TOKEN"),
		OpenRouterKey: os.Getenv("OPENROUTER_API_KEY"),
		DatabasePath:  envString("DATABASE_PATH", "archive.db"),
		Temperature:   envFloat("OPENROUTER_TEMPERATURE", 0.4),
		SiteURL:       envString("YOUR_SITE_URL", "http://localhost:8000"),
		AppName:       envString("YOUR_APP_NAME", "DiscordBot"),

		ArchiveToken:   os.Getenv("ARCHIVE_BOT_TOKEN"),
		ArchiveGuildID: os.Getenv("OLD_GUILD_ID"),
	}

	if st.ArchiveToken == "" {
		st.ArchiveToken = st.Token
	}
	st.ArchiveChannelIDs = splitIDs(os.Getenv("CHANNEL_IDS_TO_ARCHIVE"))

	return st
}

// RequireBotCredentials fails startup when the live-serving process cannot
// authenticate. Nothing else halts the bot.
func (st *Startup) RequireBotCredentials() error {
	if st.Token == "" {
		return fmt.Errorf("DISCORD_TOKEN is not set")
	}
	return nil
}

// RequireArchiverCredentials fails startup for the one-shot archiver pass.
func (st *Startup) RequireArchiverCredentials() error {
	if st.ArchiveToken == "" {
		return fmt.Errorf("ARCHIVE_BOT_TOKEN (or DISCORD_TOKEN) is not set")
	}
	if st.ArchiveGuildID == "" {
		return fmt.Errorf("OLD_GUILD_ID is not set")
	}
	return nil
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
