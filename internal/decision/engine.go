// Package decision holds the probabilistic response engine and the mention
// cooldown tracker. The engine only decides and resolves content; delivery
// belongs to the dispatcher.
package decision

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/erencivril/discord-archive-bot/internal/archive"
	"github.com/erencivril/discord-archive-bot/internal/config"
	"github.com/erencivril/discord-archive-bot/internal/logging"
	"github.com/erencivril/discord-archive-bot/internal/openrouter"
)

// textPreference is the archive-branch weight for preferring a text record
// over an attachment.
const textPreference = 0.7

// GenerationApology is sent in place of a reply when the generative call
// itself fails.
const GenerationApology = "Sorry, I encountered an error trying to think of a reply."

type ReplyKind uint8

const (
	ReplyNone ReplyKind = iota
	ReplyArchiveText
	ReplyArchiveAttachment
	ReplyArchiveFallbackText
	ReplyArchiveFallbackAttachment
	ReplyAI
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyNone:
		return "none"
	case ReplyArchiveText:
		return "archive_text"
	case ReplyArchiveAttachment:
		return "archive_attachment"
	case ReplyArchiveFallbackText:
		return "archive_fallback_text"
	case ReplyArchiveFallbackAttachment:
		return "archive_fallback_attachment"
	case ReplyAI:
		return "ai"
	default:
		return "unknown"
	}
}

// Reply is the engine's verdict for one event. Kind ReplyNone means stay
// silent; everything else carries the content to send.
type Reply struct {
	Kind    ReplyKind
	Content string
}

// ArchiveReader is the slice of the archive store the engine needs.
type ArchiveReader interface {
	RandomMessage() (*archive.ArchivedMessage, error)
	RandomAttachment() (*archive.Attachment, error)
	RecentMessages(limit int) ([]*archive.ArchivedMessage, error)
}

// Generator is the single-attempt text completion call.
type Generator interface {
	Generate(prompt string, opts *openrouter.Options) (string, error)
}

// AppLogger appends structured entries to the durable application log.
type AppLogger interface {
	AppendLog(level, eventType, message string, extra map[string]interface{}) error
}

type Engine struct {
	store ArchiveReader
	gen   Generator
	logs  AppLogger
	roll  func() float64
}

// NewEngine builds the engine. roll may be nil, in which case math/rand is
// used; tests inject a deterministic sequence.
func NewEngine(store ArchiveReader, gen Generator, logs AppLogger, roll func() float64) *Engine {
	if roll == nil {
		roll = rand.Float64
	}
	return &Engine{store: store, gen: gen, logs: logs, roll: roll}
}

// Decide draws one uniform roll and resolves the selected band. Bands are
// evaluated in declared order; if the configured probabilities sum past 1.0
// the AI band clips at 1.0 and the no-action band vanishes.
func (e *Engine) Decide(snap *config.Snapshot, triggerID, content string) *Reply {
	r := e.roll()
	switch {
	case r < snap.ProbArchiveReply:
		return e.archiveReply(triggerID)
	case r < snap.ProbArchiveReply+snap.ProbAIReply:
		return e.aiReply(snap, triggerID, content)
	default:
		return &Reply{Kind: ReplyNone}
	}
}

// archiveReply picks text vs attachment by a second roll, falling back to the
// other kind when the preferred one is empty. Each resolved sub-outcome is
// logged with the candidate record's ids before any send is attempted.
func (e *Engine) archiveReply(triggerID string) *Reply {
	if e.roll() < textPreference {
		msg, err := e.store.RandomMessage()
		if err != nil {
			logging.Error("random message fetch failed: %v", err)
			return &Reply{Kind: ReplyNone}
		}
		if msg != nil {
			e.logMessageSent(msg, triggerID, "Random message retrieved from archive.")
			return &Reply{Kind: ReplyArchiveText, Content: msg.Content}
		}

		att, err := e.store.RandomAttachment()
		if err != nil {
			logging.Error("fallback attachment fetch failed: %v", err)
			return &Reply{Kind: ReplyNone}
		}
		if att == nil {
			return &Reply{Kind: ReplyNone}
		}
		e.logAttachmentSent(att, triggerID, "Attachment sent as fallback (no messages found)")
		return &Reply{Kind: ReplyArchiveFallbackAttachment, Content: att.URL}
	}

	att, err := e.store.RandomAttachment()
	if err != nil {
		logging.Error("random attachment fetch failed: %v", err)
		return &Reply{Kind: ReplyNone}
	}
	if att != nil {
		e.logAttachmentSent(att, triggerID, "Attachment sent")
		return &Reply{Kind: ReplyArchiveAttachment, Content: att.URL}
	}

	msg, err := e.store.RandomMessage()
	if err != nil {
		logging.Error("fallback message fetch failed: %v", err)
		return &Reply{Kind: ReplyNone}
	}
	if msg == nil {
		return &Reply{Kind: ReplyNone}
	}
	e.logMessageSent(msg, triggerID, "Random message retrieved as fallback (no attachments found).")
	return &Reply{Kind: ReplyArchiveFallbackText, Content: msg.Content}
}

// aiReply formats recent archive content as style context and asks the
// generative client once. A failed call yields the fixed apology; an empty
// success yields silence and is logged distinctly from an error.
func (e *Engine) aiReply(snap *config.Snapshot, triggerID, content string) *Reply {
	context, err := e.styleContext(snap.AIContextLimit)
	if err != nil {
		e.appendLog("ERROR", "ai_response_error",
			fmt.Sprintf("Failed to build context for message %s: %v", triggerID, err),
			map[string]interface{}{"prompt": content, "trigger_message_id": triggerID})
		return &Reply{Kind: ReplyAI, Content: GenerationApology}
	}

	response, err := e.gen.Generate(content, &openrouter.Options{Context: context})
	if err != nil {
		e.appendLog("ERROR", "ai_response_error",
			fmt.Sprintf("Error getting AI response for message %s: %v", triggerID, err),
			map[string]interface{}{"prompt": content, "trigger_message_id": triggerID})
		return &Reply{Kind: ReplyAI, Content: GenerationApology}
	}

	if response == "" {
		e.appendLog("WARNING", "ai_response_empty",
			fmt.Sprintf("AI returned empty response for message %s", triggerID),
			map[string]interface{}{"prompt": content, "trigger_message_id": triggerID})
		return &Reply{Kind: ReplyNone}
	}

	e.appendLog("INFO", "ai_response_success",
		fmt.Sprintf("AI generated response for message %s", triggerID),
		map[string]interface{}{"prompt": content, "response": snippet(response, 200), "trigger_message_id": triggerID})
	return &Reply{Kind: ReplyAI, Content: response}
}

// styleContext renders the most recent archived messages, oldest first, as
// "speaker: content" lines.
func (e *Engine) styleContext(limit int) (string, error) {
	msgs, err := e.store.RecentMessages(limit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.AuthorName)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String(), nil
}

func (e *Engine) logMessageSent(msg *archive.ArchivedMessage, triggerID, text string) {
	e.appendLog("INFO", "random_message_sent", text, map[string]interface{}{
		"original_message_id": msg.MessageID,
		"db_message_id":       msg.ID,
		"content_snippet":     snippet(msg.Content, 100),
		"trigger_message_id":  triggerID,
	})
}

func (e *Engine) logAttachmentSent(att *archive.Attachment, triggerID, text string) {
	e.appendLog("INFO", "attachment_sent", text, map[string]interface{}{
		"attachment_id":      att.AttachmentID,
		"filename":           att.Filename,
		"url":                att.URL,
		"content_type":       att.ContentType,
		"trigger_message_id": triggerID,
	})
}

func (e *Engine) appendLog(level, eventType, message string, extra map[string]interface{}) {
	if err := e.logs.AppendLog(level, eventType, message, extra); err != nil {
		logging.Warn("app log append failed: %v", err)
	}
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
