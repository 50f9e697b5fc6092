package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/erencivril/discord-archive-bot/internal/protection"
)

// discordAudit reads the guild audit log for the protection pipeline.
type discordAudit struct {
	sess *discordgo.Session
}

func (a *discordAudit) RecentEntries(guildID string, action protection.AuditAction, limit int) ([]protection.AuditEntry, error) {
	audit, err := a.sess.GuildAuditLog(guildID, "", "", int(action), limit)
	if err != nil {
		return nil, err
	}

	// Discord returns entries newest first, which is the order the pipeline
	// expects.
	entries := make([]protection.AuditEntry, 0, len(audit.AuditLogEntries))
	for _, e := range audit.AuditLogEntries {
		entries = append(entries, protection.AuditEntry{
			ActorID:  e.UserID,
			TargetID: e.TargetID,
		})
	}
	return entries, nil
}

// discordRoles resolves and revokes member roles.
type discordRoles struct {
	sess *discordgo.Session
}

func (r *discordRoles) member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := r.sess.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return r.sess.GuildMember(guildID, userID)
}

func (r *discordRoles) MemberRoles(guildID, userID string) ([]protection.Role, error) {
	member, err := r.member(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("member %s lookup failed: %w", userID, err)
	}

	guildRoles, err := r.sess.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild role listing failed: %w", err)
	}

	byID := make(map[string]*discordgo.Role, len(guildRoles))
	for _, gr := range guildRoles {
		byID[gr.ID] = gr
	}

	var roles []protection.Role
	for _, id := range member.Roles {
		gr, ok := byID[id]
		if !ok {
			continue
		}
		roles = append(roles, protection.Role{
			ID:          gr.ID,
			Name:        gr.Name,
			Permissions: gr.Permissions,
		})
	}
	return roles, nil
}

// RevokeRoles removes the given roles in a single member edit so the audit
// trail shows one action with one reason.
func (r *discordRoles) RevokeRoles(guildID, userID string, roles []protection.Role, reason string) error {
	member, err := r.member(guildID, userID)
	if err != nil {
		return fmt.Errorf("member %s lookup failed: %w", userID, err)
	}

	revoke := make(map[string]bool, len(roles))
	for _, role := range roles {
		revoke[role.ID] = true
	}

	remaining := make([]string, 0, len(member.Roles))
	for _, id := range member.Roles {
		if !revoke[id] {
			remaining = append(remaining, id)
		}
	}

	_, err = r.sess.GuildMemberEdit(guildID, userID,
		&discordgo.GuildMemberParams{Roles: &remaining},
		discordgo.WithAuditLogReason(reason))
	return err
}
