package archive

import "time"

// ArchivedMessage is one historical message, immutable once written. MessageID
// is the platform-assigned id and the dedup key.
type ArchivedMessage struct {
	ID         int64
	MessageID  string
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	Timestamp  time.Time
	CreatedAt  time.Time
}

// Attachment belongs to an ArchivedMessage via the message's platform id and
// shares its immutability and cascade-delete rules.
type Attachment struct {
	ID           int64
	MessageID    string
	AttachmentID string
	URL          string
	Filename     string
	ContentType  string
	CreatedAt    time.Time
}

// AppLog is one append-only structured application log entry.
type AppLog struct {
	ID        int64
	Level     string
	EventType string
	Message   string
	Extra     map[string]interface{}
	Timestamp time.Time
}
