package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultChatModel    = "microsoft/mai-ds-r1:free"
	DefaultMentionModel = "google/gemini-flash-1.5"

	DefaultMentionSystemPrompt = "You are a helpful assistant responding to a user mention."
)

// Snapshot is an immutable view of the live-tunable options. Handlers take a
// snapshot once per event; mid-event option changes never apply retroactively.
type Snapshot struct {
	ProbArchiveReply    float64
	ProbAIReply         float64
	MentionCooldown     time.Duration
	AIContextLimit      int
	OwnerID             string
	VoiceProtection     bool
	ChatModel           string
	MentionModel        string
	MentionSystemPrompt string
}

// ResolveMentionModel returns the model for the mention path. The mention
// model must differ from the general chat model; when unset or identical the
// fixed default is used instead.
func (s *Snapshot) ResolveMentionModel() string {
	if s.MentionModel != "" && s.MentionModel != s.ChatModel {
		return s.MentionModel
	}
	return DefaultMentionModel
}

// ProbSumExceedsOne reports the misconfiguration where both reply bands
// together exceed the unit interval. Bands stay order-dependent: the AI band
// is clipped at 1.0 and the no-action band disappears.
func (s *Snapshot) ProbSumExceedsOne() bool {
	return s.ProbArchiveReply+s.ProbAIReply > 1.0
}

// Store re-reads the .env file and environment on demand and hands out
// immutable snapshots.
type Store struct {
	mu      sync.RWMutex
	envPath string
	snap    *Snapshot
}

func NewStore(envPath string) *Store {
	s := &Store{envPath: envPath}
	s.Reload()
	return s
}

// Reload re-reads the .env file (overriding the process environment, so edits
// to the file win) and swaps in a fresh snapshot.
func (s *Store) Reload() *Snapshot {
	if s.envPath != "" {
		// Missing file is fine; the environment still applies.
		_ = godotenv.Overload(s.envPath)
	}

	snap := &Snapshot{
		ProbArchiveReply:    envFloat("PROB_ARCHIVE_REPLY", 0.4),
		ProbAIReply:         envFloat("PROB_AI_REPLY", 0.4),
		MentionCooldown:     time.Duration(envInt("AI_MENTION_COOLDOWN", 60)) * time.Second,
		AIContextLimit:      envInt("AI_CONTEXT_MESSAGE_LIMIT", 50),
		OwnerID:             os.Getenv("BOT_OWNER_ID"),
		VoiceProtection:     envBool("ENABLE_VOICE_PROTECTION", false),
		ChatModel:           envString("OPENROUTER_CHAT_MODEL", DefaultChatModel),
		MentionModel:        os.Getenv("OPENROUTER_MENTION_MODEL"),
		MentionSystemPrompt: envString("MENTION_SYSTEM_PROMPT", DefaultMentionSystemPrompt),
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap
}

// Snapshot returns the most recently loaded snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Watch refreshes the snapshot periodically until stop is closed, so option
// changes apply without a restart.
func (s *Store) Watch(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Reload()
		case <-stop:
			return
		}
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}
