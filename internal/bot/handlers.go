package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/erencivril/discord-archive-bot/internal/archive"
	"github.com/erencivril/discord-archive-bot/internal/config"
	"github.com/erencivril/discord-archive-bot/internal/decision"
	"github.com/erencivril/discord-archive-bot/internal/logging"
	"github.com/erencivril/discord-archive-bot/internal/openrouter"
	"github.com/erencivril/discord-archive-bot/internal/protection"
)

const (
	deliveryApology = "I tried to send a response, but something went wrong."
	// Discord rejects message bodies past 2000 characters; truncated resends
	// leave room for the ellipsis.
	truncateLimit = 1990

	deleteCommand = "!delete_msg"
)

// Handlers is the single-consumer dispatcher: discordgo feeds it events in
// arrival order and every handler runs its event to completion. No failure
// inside a handler may propagate.
type Handlers struct {
	store    *archive.Store
	engine   *decision.Engine
	gen      *openrouter.Client
	cooldown *decision.CooldownTracker
	pipeline *protection.Pipeline
	cfg      *config.Store
}

func NewHandlers(store *archive.Store, engine *decision.Engine, gen *openrouter.Client,
	cooldown *decision.CooldownTracker, cfg *config.Store, sess *Session) *Handlers {

	dg := sess.Discord()
	roles := &discordRoles{sess: dg}
	pipeline := protection.NewPipeline(&discordAudit{sess: dg}, roles, roles, store)

	return &Handlers{
		store:    store,
		engine:   engine,
		gen:      gen,
		cooldown: cooldown,
		pipeline: pipeline,
		cfg:      cfg,
	}
}

func (h *Handlers) Register(s *Session) {
	dg := s.Discord()
	dg.AddHandler(h.onMessage)
	dg.AddHandler(h.onVoiceStateUpdate)
}

func (h *Handlers) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || s.State.User == nil || m.Author.ID == s.State.User.ID {
		return
	}

	snap := h.cfg.Snapshot()

	if mentionsUser(m, s.State.User.ID) {
		h.handleMention(s, m, snap)
		return
	}

	if strings.HasPrefix(m.Content, deleteCommand) && m.Author.ID == snap.OwnerID {
		h.handleDelete(s, m)
		return
	}

	reply := h.engine.Decide(snap, m.ID, m.Content)
	if reply.Kind == decision.ReplyNone {
		logging.Debug("no action for message %s", m.ID)
		return
	}

	logging.Info("action taken: %s | triggered by %s", reply.Kind, m.ID)
	h.deliver(s, m, reply.Content)
}

// handleMention runs the separately-configured mention path behind the
// per-user cooldown. The cooldown timestamp advances after the attempt is
// dispatched whether or not generation succeeded.
func (h *Handlers) handleMention(s *discordgo.Session, m *discordgo.MessageCreate, snap *config.Snapshot) {
	if !h.cooldown.Allow(m.Author.ID, snap.OwnerID, snap.MentionCooldown) {
		logging.Debug("mention from %s suppressed by cooldown", m.Author.ID)
		return
	}

	content := strings.TrimSpace(stripMention(m.Content, s.State.User.ID))
	model := snap.ResolveMentionModel()

	response, err := h.gen.Generate(content, &openrouter.Options{
		ModelOverride:        model,
		SystemPromptOverride: snap.MentionSystemPrompt,
	})
	if err != nil {
		h.appendLog("ERROR", "ai_mention_error",
			fmt.Sprintf("Error in AI mention handler: %v", err),
			map[string]interface{}{
				"user_id":            m.Author.ID,
				"content":            content,
				"trigger_message_id": m.ID,
			})
	} else if response != "" {
		if _, err := s.ChannelMessageSend(m.ChannelID, response); err != nil {
			logging.Error("failed to send mention response: %v", err)
		}
		h.appendLog("INFO", "ai_mention_response", "AI mention response sent.",
			map[string]interface{}{
				"user_id":            m.Author.ID,
				"is_owner":           m.Author.ID == snap.OwnerID,
				"content":            content,
				"response_snippet":   snippet(response, 100),
				"trigger_message_id": m.ID,
				"model":              model,
			})
	}

	if m.Author.ID != snap.OwnerID {
		h.cooldown.Record(m.Author.ID)
	}
}

// handleDelete is the operator's only way to remove archived content.
func (h *Handlers) handleDelete(s *discordgo.Session, m *discordgo.MessageCreate) {
	parts := strings.Fields(m.Content)
	if len(parts) != 2 {
		s.ChannelMessageSend(m.ChannelID, "Usage: `!delete_msg <message_id>`")
		return
	}
	target := parts[1]

	deleted, err := h.store.DeleteMessage(target)
	switch {
	case err != nil:
		h.appendLog("ERROR", "message_delete_error",
			fmt.Sprintf("Error deleting message ID %s: %v", target, err),
			map[string]interface{}{"deleted_by": m.Author.ID})
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("An error occurred while trying to delete message ID `%s`.", target))
	case deleted:
		h.appendLog("INFO", "message_deleted",
			fmt.Sprintf("Owner deleted message ID %s", target),
			map[string]interface{}{"deleted_by": m.Author.ID})
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Successfully deleted message ID `%s` and its attachments from the archive.", target))
	default:
		h.appendLog("WARNING", "message_delete_failed",
			fmt.Sprintf("Failed to delete message ID %s (not found?)", target),
			map[string]interface{}{"deleted_by": m.Author.ID})
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Could not find message ID `%s` in the archive or deletion failed.", target))
	}
}

// deliver sends the decided content. An over-length rejection is truncated
// and resent once as a reply; any other failure gets the generic apology.
// Delivery never propagates an error to the dispatch loop.
func (h *Handlers) deliver(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	_, err := s.ChannelMessageSend(m.ChannelID, content)
	if err == nil {
		return
	}

	h.appendLog("ERROR", "send_message_error",
		fmt.Sprintf("Discord API error sending response for trigger %s: %v", m.ID, err),
		map[string]interface{}{
			"response_content":   snippet(content, 200),
			"trigger_message_id": m.ID,
		})

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeInvalidFormBody {
		truncated := truncateRunes(content, truncateLimit) + "..."
		if _, err := s.ChannelMessageSendReply(m.ChannelID, truncated, m.Reference()); err != nil {
			logging.Error("truncated resend failed for trigger %s: %v", m.ID, err)
		}
		return
	}

	if _, err := s.ChannelMessageSend(m.ChannelID, deliveryApology); err != nil {
		logging.Error("apology send failed for trigger %s: %v", m.ID, err)
	}
}

// onVoiceStateUpdate feeds the transition to the protection pipeline and logs
// the typed result centrally. Attribution misses stay at trace level; only
// genuine failures are errors.
func (h *Handlers) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}

	snap := h.cfg.Snapshot()

	var before protection.VoiceState
	if v.BeforeUpdate != nil {
		before = protection.VoiceState{
			ChannelID: v.BeforeUpdate.ChannelID,
			Mute:      v.BeforeUpdate.Mute,
			Deaf:      v.BeforeUpdate.Deaf,
		}
	}

	result := h.pipeline.Handle(snap, protection.Transition{
		GuildID: v.GuildID,
		UserID:  v.UserID,
		Before:  before,
		After: protection.VoiceState{
			ChannelID: v.ChannelID,
			Mute:      v.Mute,
			Deaf:      v.Deaf,
		},
	})

	switch result.Outcome {
	case protection.OutcomeRemediated:
		logging.Info("voice protection: removed roles %v from %s (%s)", result.Removed, result.ActorID, result.Action)
	case protection.OutcomeError:
		logging.Error("voice protection failed: %v", result.Err)
	default:
		logging.Debug("voice protection: %s", result.Outcome)
	}
}

func (h *Handlers) appendLog(level, eventType, message string, extra map[string]interface{}) {
	if err := h.store.AppendLog(level, eventType, message, extra); err != nil {
		logging.Warn("app log append failed: %v", err)
	}
}

func mentionsUser(m *discordgo.MessageCreate, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

func stripMention(content, userID string) string {
	r := strings.NewReplacer("<@"+userID+">", "", "<@!"+userID+">", "")
	return r.Replace(content)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
