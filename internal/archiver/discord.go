package archiver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// discordHistory reads channel history over the Discord REST API. Page fetches
// use the after-cursor so the walk is oldest-first; Discord returns each page
// newest-first, so pages are reversed before they leave this layer.
type discordHistory struct {
	sess       *discordgo.Session
	guildID    string
	channelIDs []string
}

// NewDiscordHistory walks the given channels of guildID. With no explicit
// channel list, every text channel of the guild is walked; channels the bot
// cannot read surface as ErrForbidden during the walk.
func NewDiscordHistory(sess *discordgo.Session, guildID string, channelIDs []string) History {
	return &discordHistory{
		sess:       sess,
		guildID:    guildID,
		channelIDs: channelIDs,
	}
}

func (h *discordHistory) Channels() ([]Channel, error) {
	if len(h.channelIDs) > 0 {
		var channels []Channel
		for _, id := range h.channelIDs {
			ch, err := h.sess.Channel(id)
			if err != nil {
				return nil, fmt.Errorf("channel %s lookup failed: %w", id, err)
			}
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			channels = append(channels, Channel{ID: ch.ID, Name: ch.Name})
		}
		return channels, nil
	}

	all, err := h.sess.GuildChannels(h.guildID)
	if err != nil {
		return nil, fmt.Errorf("guild channel listing failed: %w", err)
	}

	var channels []Channel
	for _, ch := range all {
		if ch.Type == discordgo.ChannelTypeGuildText {
			channels = append(channels, Channel{ID: ch.ID, Name: ch.Name})
		}
	}
	return channels, nil
}

func (h *discordHistory) Messages(channelID, afterID string, limit int) ([]RawMessage, error) {
	if afterID == "" {
		afterID = "0"
	}

	msgs, err := h.sess.ChannelMessages(channelID, limit, "", afterID, "")
	if err != nil {
		if isForbidden(err) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	page := make([]RawMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		raw := RawMessage{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
		if m.Author != nil {
			raw.AuthorID = m.Author.ID
			raw.AuthorName = m.Author.Username
			raw.AuthorBot = m.Author.Bot
		}
		for _, att := range m.Attachments {
			raw.Attachments = append(raw.Attachments, RawAttachment{
				ID:          att.ID,
				URL:         att.URL,
				Filename:    att.Filename,
				ContentType: att.ContentType,
			})
		}
		page = append(page, raw)
	}
	return page, nil
}

func isForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return true
	}
	return restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingAccess
}
