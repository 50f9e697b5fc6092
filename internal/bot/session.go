package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/erencivril/discord-archive-bot/internal/logging"
)

// Session wraps the discordgo session for the live-serving process.
type Session struct {
	discord *discordgo.Session
}

func NewSession(token string) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	// Voice-state comparisons need the previous state.
	dg.StateEnabled = true
	dg.State.TrackVoice = true

	return &Session{discord: dg}, nil
}

// Discord returns the underlying discordgo session.
func (s *Session) Discord() *discordgo.Session {
	return s.discord
}

func (s *Session) Open() error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	if s.discord.State.User != nil {
		logging.Info("Logged in as %s (%s)", s.discord.State.User.Username, s.discord.State.User.ID)
	}
	return nil
}

func (s *Session) Close() error {
	if s.discord != nil {
		return s.discord.Close()
	}
	return nil
}
