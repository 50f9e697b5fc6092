package protection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erencivril/discord-archive-bot/internal/config"
)

const ownerID = "1000"

type fakeAudit struct {
	entries []AuditEntry
	err     error
	queried []AuditAction
}

func (f *fakeAudit) RecentEntries(guildID string, action AuditAction, limit int) ([]AuditEntry, error) {
	f.queried = append(f.queried, action)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakeRoles struct {
	roles    []Role
	rolesErr error

	revoked   []Role
	revokedID string
	reason    string
	revokeErr error
}

func (f *fakeRoles) MemberRoles(guildID, userID string) ([]Role, error) {
	return f.roles, f.rolesErr
}

func (f *fakeRoles) RevokeRoles(guildID, userID string, roles []Role, reason string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revokedID = userID
	f.revoked = roles
	f.reason = reason
	return nil
}

type fakeAppLog struct {
	types []string
}

func (f *fakeAppLog) AppendLog(level, eventType, message string, extra map[string]interface{}) error {
	f.types = append(f.types, eventType)
	return nil
}

func enabledSnap() *config.Snapshot {
	return &config.Snapshot{VoiceProtection: true, OwnerID: ownerID}
}

func muteTransition() Transition {
	return Transition{
		GuildID: "g1",
		UserID:  ownerID,
		Before:  VoiceState{ChannelID: "vc1"},
		After:   VoiceState{ChannelID: "vc1", Mute: true},
	}
}

func moderatorRoles() []Role {
	return []Role{
		{ID: "r1", Name: "everyone", Permissions: 0},
		{ID: "r2", Name: "voice-mod", Permissions: PermMuteMembers | PermDeafenMembers},
		{ID: "r3", Name: "mover", Permissions: PermMoveMembers},
		{ID: "r4", Name: "texter", Permissions: 1 << 11}, // send messages only
	}
}

func TestPipelineRemediatesMute(t *testing.T) {
	audit := &fakeAudit{entries: []AuditEntry{
		{ActorID: "999", TargetID: "somebody-else"},
		{ActorID: "2000", TargetID: ownerID},
	}}
	roles := &fakeRoles{roles: moderatorRoles()}
	logs := &fakeAppLog{}
	p := NewPipeline(audit, roles, roles, logs)

	res := p.Handle(enabledSnap(), muteTransition())

	require.Equal(t, OutcomeRemediated, res.Outcome)
	require.Equal(t, ActionMute, res.Action)
	require.Equal(t, "2000", res.ActorID)
	require.Equal(t, []string{"voice-mod", "mover"}, res.Removed)

	// Exactly the capability-granting subset is revoked, nothing else.
	require.Equal(t, "2000", roles.revokedID)
	require.Len(t, roles.revoked, 2)
	require.Equal(t, "r2", roles.revoked[0].ID)
	require.Equal(t, "r3", roles.revoked[1].ID)
	require.NotEmpty(t, roles.reason)

	require.Equal(t, []string{"voice_protection"}, logs.types)
	require.Equal(t, []AuditAction{AuditMemberUpdate}, audit.queried)
}

func TestPipelineDisconnectQueriesMemberMove(t *testing.T) {
	audit := &fakeAudit{entries: []AuditEntry{{ActorID: "2000", TargetID: ownerID}}}
	roles := &fakeRoles{roles: moderatorRoles()}
	p := NewPipeline(audit, roles, roles, &fakeAppLog{})

	res := p.Handle(enabledSnap(), Transition{
		GuildID: "g1",
		UserID:  ownerID,
		Before:  VoiceState{ChannelID: "vc1"},
		After:   VoiceState{},
	})

	require.Equal(t, OutcomeRemediated, res.Outcome)
	require.Equal(t, ActionDisconnect, res.Action)
	require.Equal(t, []AuditAction{AuditMemberMove}, audit.queried)
}

func TestPipelineAborts(t *testing.T) {
	t.Run("feature disabled", func(t *testing.T) {
		p := NewPipeline(&fakeAudit{}, &fakeRoles{}, &fakeRoles{}, &fakeAppLog{})
		res := p.Handle(&config.Snapshot{OwnerID: ownerID}, muteTransition())
		require.Equal(t, OutcomeDisabled, res.Outcome)
	})

	t.Run("not the protected user", func(t *testing.T) {
		p := NewPipeline(&fakeAudit{}, &fakeRoles{}, &fakeRoles{}, &fakeAppLog{})
		tr := muteTransition()
		tr.UserID = "other"
		res := p.Handle(enabledSnap(), tr)
		require.Equal(t, OutcomeNotProtected, res.Outcome)
	})

	t.Run("no qualifying edge", func(t *testing.T) {
		p := NewPipeline(&fakeAudit{}, &fakeRoles{}, &fakeRoles{}, &fakeAppLog{})
		res := p.Handle(enabledSnap(), Transition{
			GuildID: "g1",
			UserID:  ownerID,
			Before:  VoiceState{ChannelID: "vc1", Mute: true},
			After:   VoiceState{ChannelID: "vc1", Mute: true},
		})
		require.Equal(t, OutcomeNoEdge, res.Outcome)
	})

	t.Run("unmute is not an edge", func(t *testing.T) {
		p := NewPipeline(&fakeAudit{}, &fakeRoles{}, &fakeRoles{}, &fakeAppLog{})
		res := p.Handle(enabledSnap(), Transition{
			GuildID: "g1",
			UserID:  ownerID,
			Before:  VoiceState{ChannelID: "vc1", Mute: true},
			After:   VoiceState{ChannelID: "vc1"},
		})
		require.Equal(t, OutcomeNoEdge, res.Outcome)
	})

	t.Run("no audit match in window", func(t *testing.T) {
		audit := &fakeAudit{entries: []AuditEntry{
			{ActorID: "1", TargetID: "2"},
			{ActorID: "3", TargetID: "4"},
		}}
		roles := &fakeRoles{roles: moderatorRoles()}
		logs := &fakeAppLog{}
		p := NewPipeline(audit, roles, roles, logs)

		res := p.Handle(enabledSnap(), muteTransition())
		require.Equal(t, OutcomeNoActor, res.Outcome)
		require.Empty(t, roles.revokedID)
		// Attribution misses are silent, not errors.
		require.Empty(t, logs.types)
	})

	t.Run("self-inflicted", func(t *testing.T) {
		audit := &fakeAudit{entries: []AuditEntry{{ActorID: ownerID, TargetID: ownerID}}}
		roles := &fakeRoles{roles: moderatorRoles()}
		p := NewPipeline(audit, roles, roles, &fakeAppLog{})

		res := p.Handle(enabledSnap(), muteTransition())
		require.Equal(t, OutcomeSelf, res.Outcome)
		require.Empty(t, roles.revokedID)
	})

	t.Run("no revocable roles", func(t *testing.T) {
		audit := &fakeAudit{entries: []AuditEntry{{ActorID: "2000", TargetID: ownerID}}}
		roles := &fakeRoles{roles: []Role{{ID: "r1", Name: "plain", Permissions: 0}}}
		p := NewPipeline(audit, roles, roles, &fakeAppLog{})

		res := p.Handle(enabledSnap(), muteTransition())
		require.Equal(t, OutcomeNoRoles, res.Outcome)
		require.Empty(t, roles.revokedID)
	})
}

func TestPipelineFailuresAreTypedAndLogged(t *testing.T) {
	t.Run("audit fetch failure", func(t *testing.T) {
		audit := &fakeAudit{err: errors.New("api down")}
		logs := &fakeAppLog{}
		p := NewPipeline(audit, &fakeRoles{}, &fakeRoles{}, logs)

		res := p.Handle(enabledSnap(), muteTransition())
		require.Equal(t, OutcomeError, res.Outcome)
		require.Error(t, res.Err)
		require.Equal(t, []string{"voice_protection_error"}, logs.types)
	})

	t.Run("revocation failure", func(t *testing.T) {
		audit := &fakeAudit{entries: []AuditEntry{{ActorID: "2000", TargetID: ownerID}}}
		roles := &fakeRoles{roles: moderatorRoles(), revokeErr: errors.New("missing permissions")}
		logs := &fakeAppLog{}
		p := NewPipeline(audit, roles, roles, logs)

		res := p.Handle(enabledSnap(), muteTransition())
		require.Equal(t, OutcomeError, res.Outcome)
		require.Equal(t, []string{"voice_protection_error"}, logs.types)
	})
}

func TestAttributionTakesMostRecentMatch(t *testing.T) {
	// Two qualifying entries within the lookback window: first-by-recency wins.
	audit := &fakeAudit{entries: []AuditEntry{
		{ActorID: "2000", TargetID: ownerID},
		{ActorID: "3000", TargetID: ownerID},
	}}
	roles := &fakeRoles{roles: moderatorRoles()}
	p := NewPipeline(audit, roles, roles, &fakeAppLog{})

	res := p.Handle(enabledSnap(), muteTransition())
	require.Equal(t, "2000", res.ActorID)
}
