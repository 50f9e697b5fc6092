// Package archiver implements the one-shot bulk ingestion pass that loads a
// guild's message history into the archive store. The pass is idempotent:
// re-running it inserts nothing new and loses nothing already committed.
package archiver

import (
	"errors"
	"time"

	"github.com/erencivril/discord-archive-bot/internal/archive"
	"github.com/erencivril/discord-archive-bot/internal/logging"
)

// ErrForbidden marks a channel whose history the bot may not read. The run
// skips that channel and continues with the rest.
var ErrForbidden = errors.New("missing read access")

const (
	defaultPageSize    = 100
	progressCheckpoint = 1000
)

// Channel identifies one text channel to walk.
type Channel struct {
	ID   string
	Name string
}

// RawMessage is a platform message before normalization.
type RawMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AuthorBot   bool
	Content     string
	Timestamp   time.Time
	Attachments []RawAttachment
}

type RawAttachment struct {
	ID          string
	URL         string
	Filename    string
	ContentType string
}

// History produces channel pages oldest-first. Messages returns up to limit
// messages strictly after afterID in chronological order; an empty afterID
// starts from the beginning of the channel. An empty page ends the walk.
type History interface {
	Channels() ([]Channel, error)
	Messages(channelID, afterID string, limit int) ([]RawMessage, error)
}

// ChannelReport carries per-channel totals. Forbidden channels are reported
// distinctly from other failures.
type ChannelReport struct {
	Channel   Channel
	Inserted  int64
	Skipped   int64
	Forbidden bool
	Err       error
}

// Report is the whole run's outcome.
type Report struct {
	Channels []ChannelReport
	Inserted int64
	Skipped  int64
	Duration time.Duration
}

type Archiver struct {
	store    *archive.Store
	history  History
	guildID  string
	pageSize int
}

func New(store *archive.Store, history History, guildID string) *Archiver {
	return &Archiver{
		store:    store,
		history:  history,
		guildID:  guildID,
		pageSize: defaultPageSize,
	}
}

// Run walks every channel oldest-first and archives each non-bot message with
// its attachments. Per-message failures are logged and skipped; only an
// inability to list channels aborts the run.
func (a *Archiver) Run() (*Report, error) {
	start := time.Now()

	channels, err := a.history.Channels()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, ch := range channels {
		cr := a.archiveChannel(ch)
		report.Channels = append(report.Channels, cr)
		report.Inserted += cr.Inserted
		report.Skipped += cr.Skipped
	}

	report.Duration = time.Since(start)
	return report, nil
}

func (a *Archiver) archiveChannel(ch Channel) ChannelReport {
	cr := ChannelReport{Channel: ch}
	cursor := ""

	for {
		page, err := a.history.Messages(ch.ID, cursor, a.pageSize)
		if err != nil {
			if errors.Is(err, ErrForbidden) {
				cr.Forbidden = true
				logging.Warn("no read access to channel #%s (%s), skipping", ch.Name, ch.ID)
			} else {
				cr.Err = err
				logging.Error("archiving channel #%s failed: %v", ch.Name, err)
			}
			return cr
		}
		if len(page) == 0 {
			return cr
		}

		for i := range page {
			msg := &page[i]
			cursor = msg.ID

			if msg.AuthorBot {
				continue
			}

			inserted, err := a.archiveMessage(msg)
			if err != nil {
				logging.Error("failed to archive message %s: %v", msg.ID, err)
				continue
			}
			if inserted {
				cr.Inserted++
			} else {
				cr.Skipped++
			}

			if processed := cr.Inserted + cr.Skipped; processed%progressCheckpoint == 0 {
				logging.Info("... processed %d messages in #%s (%d added, %d skipped)",
					processed, ch.Name, cr.Inserted, cr.Skipped)
			}
		}
	}
}

// archiveMessage writes the message and its attachments as one atomic unit.
// The message insert decides inserted-vs-skipped; attachments dedup
// independently so a partially archived earlier pass completes here.
func (a *Archiver) archiveMessage(msg *RawMessage) (bool, error) {
	var inserted bool
	err := a.store.WithTx(func(tx *archive.Tx) error {
		var err error
		inserted, err = tx.InsertMessageIfAbsent(&archive.ArchivedMessage{
			MessageID:  msg.ID,
			GuildID:    a.guildID,
			ChannelID:  msg.ChannelID,
			AuthorID:   msg.AuthorID,
			AuthorName: msg.AuthorName,
			Content:    msg.Content,
			Timestamp:  msg.Timestamp,
		})
		if err != nil {
			return err
		}

		for _, att := range msg.Attachments {
			if _, err := tx.InsertAttachmentIfAbsent(&archive.Attachment{
				AttachmentID: att.ID,
				MessageID:    msg.ID,
				URL:          att.URL,
				Filename:     att.Filename,
				ContentType:  att.ContentType,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return inserted, err
}
