package archiver

import (
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erencivril/discord-archive-bot/internal/archive"
)

// fakeHistory serves pre-baked pages per channel.
type fakeHistory struct {
	channels  []Channel
	messages  map[string][]RawMessage
	forbidden map[string]bool
	failing   map[string]error
}

func (f *fakeHistory) Channels() ([]Channel, error) {
	return f.channels, nil
}

func (f *fakeHistory) Messages(channelID, afterID string, limit int) ([]RawMessage, error) {
	if f.forbidden[channelID] {
		return nil, ErrForbidden
	}
	if err := f.failing[channelID]; err != nil {
		return nil, err
	}

	all := f.messages[channelID]
	start := 0
	if afterID != "" {
		for i, m := range all {
			if m.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func rawMessage(id int, bot bool, attachments ...string) RawMessage {
	m := RawMessage{
		ID:         strconv.Itoa(id),
		ChannelID:  "c1",
		AuthorID:   "u1",
		AuthorName: "alice",
		AuthorBot:  bot,
		Content:    "content-" + strconv.Itoa(id),
		Timestamp:  time.Unix(1700000000+int64(id), 0),
	}
	for _, att := range attachments {
		m.Attachments = append(m.Attachments, RawAttachment{ID: att, URL: "https://cdn/" + att})
	}
	return m
}

func openTestStore(t *testing.T) *archive.Store {
	t.Helper()
	s, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunArchivesMessagesAndAttachments(t *testing.T) {
	store := openTestStore(t)
	history := &fakeHistory{
		channels: []Channel{{ID: "c1", Name: "general"}},
		messages: map[string][]RawMessage{
			"c1": {
				rawMessage(1, false),
				rawMessage(2, false, "a1", "a2"),
				rawMessage(3, true), // bot message, ignored
				rawMessage(4, false),
			},
		},
	}

	report, err := New(store, history, "g1").Run()
	require.NoError(t, err)
	require.EqualValues(t, 3, report.Inserted)
	require.EqualValues(t, 0, report.Skipped)

	n, err := store.CountMessages()
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	atts, err := store.CountAttachments()
	require.NoError(t, err)
	require.EqualValues(t, 2, atts)
}

func TestRunIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	history := &fakeHistory{
		channels: []Channel{{ID: "c1", Name: "general"}},
		messages: map[string][]RawMessage{
			"c1": {rawMessage(1, false), rawMessage(2, false, "a1")},
		},
	}

	first, err := New(store, history, "g1").Run()
	require.NoError(t, err)
	require.EqualValues(t, 2, first.Inserted)
	require.EqualValues(t, 0, first.Skipped)

	second, err := New(store, history, "g1").Run()
	require.NoError(t, err)
	require.EqualValues(t, 0, second.Inserted)
	require.EqualValues(t, 2, second.Skipped)

	n, err := store.CountMessages()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestRunPaginatesOldestFirst(t *testing.T) {
	var msgs []RawMessage
	for i := 1; i <= 250; i++ {
		msgs = append(msgs, rawMessage(i, false))
	}

	store := openTestStore(t)
	history := &fakeHistory{
		channels: []Channel{{ID: "c1", Name: "general"}},
		messages: map[string][]RawMessage{"c1": msgs},
	}

	report, err := New(store, history, "g1").Run()
	require.NoError(t, err)
	require.EqualValues(t, 250, report.Inserted)

	recent, err := store.RecentMessages(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "250", recent[0].MessageID)
}

func TestRunSkipsForbiddenChannelAndContinues(t *testing.T) {
	store := openTestStore(t)
	history := &fakeHistory{
		channels: []Channel{
			{ID: "locked", Name: "secret"},
			{ID: "c1", Name: "general"},
		},
		messages: map[string][]RawMessage{
			"c1": {rawMessage(1, false)},
		},
		forbidden: map[string]bool{"locked": true},
	}

	report, err := New(store, history, "g1").Run()
	require.NoError(t, err)
	require.Len(t, report.Channels, 2)
	require.True(t, report.Channels[0].Forbidden)
	require.NoError(t, report.Channels[0].Err)
	require.False(t, report.Channels[1].Forbidden)
	require.EqualValues(t, 1, report.Inserted)
}

func TestRunReportsChannelFailureDistinctly(t *testing.T) {
	store := openTestStore(t)
	boom := errors.New("gateway hiccup")
	history := &fakeHistory{
		channels: []Channel{
			{ID: "flaky", Name: "flaky"},
			{ID: "c1", Name: "general"},
		},
		messages: map[string][]RawMessage{
			"c1": {rawMessage(1, false)},
		},
		failing: map[string]error{"flaky": boom},
	}

	report, err := New(store, history, "g1").Run()
	require.NoError(t, err)
	require.ErrorIs(t, report.Channels[0].Err, boom)
	require.False(t, report.Channels[0].Forbidden)
	require.EqualValues(t, 1, report.Inserted)
}
