// Package protection watches voice-state transitions against the protected
// owner, attributes the acting user through the guild audit log, and strips
// the perpetrator's voice-moderation roles.
package protection

import (
	"fmt"

	"github.com/erencivril/discord-archive-bot/internal/config"
	"github.com/erencivril/discord-archive-bot/internal/logging"
)

// Discord permission bits for the capabilities a revocable role may grant.
const (
	PermMuteMembers   int64 = 1 << 22
	PermDeafenMembers int64 = 1 << 23
	PermMoveMembers   int64 = 1 << 24
)

const revocableCapabilities = PermMuteMembers | PermDeafenMembers | PermMoveMembers

// auditLookback bounds the attribution window. The trail is assumed
// append-only and recency-ordered; with several qualifying entries in the
// window the most recent one targeting the owner wins.
const auditLookback = 5

const revokeReason = "Voice protection: muted/deafened/disconnected the owner"

// AuditAction selects the audit-log category to search. Values match the
// Discord audit-log action types.
type AuditAction int

const (
	AuditMemberUpdate AuditAction = 24
	AuditMemberMove   AuditAction = 26
)

type ActionKind uint8

const (
	ActionMute ActionKind = iota
	ActionDeafen
	ActionDisconnect
)

func (a ActionKind) String() string {
	switch a {
	case ActionMute:
		return "mute"
	case ActionDeafen:
		return "deafen"
	case ActionDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Outcome is the typed result of one pipeline run. Every value except
// OutcomeRemediated and OutcomeError is a silent abort.
type Outcome uint8

const (
	OutcomeRemediated Outcome = iota
	OutcomeDisabled
	OutcomeNotProtected
	OutcomeNoEdge
	OutcomeNoActor
	OutcomeSelf
	OutcomeNoRoles
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRemediated:
		return "remediated"
	case OutcomeDisabled:
		return "protection disabled"
	case OutcomeNotProtected:
		return "not the protected user"
	case OutcomeNoEdge:
		return "no qualifying transition"
	case OutcomeNoActor:
		return "no audit match"
	case OutcomeSelf:
		return "self-inflicted"
	case OutcomeNoRoles:
		return "no revocable roles"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// VoiceState is the slice of a voice session the pipeline compares.
type VoiceState struct {
	ChannelID string
	Mute      bool
	Deaf      bool
}

// Transition is one observed voice-state change for a user.
type Transition struct {
	GuildID string
	UserID  string
	Before  VoiceState
	After   VoiceState
}

// AuditEntry is one moderation action from the platform audit trail.
type AuditEntry struct {
	ActorID  string
	TargetID string
}

// AuditSource returns up to limit most-recent entries of one action category,
// newest first.
type AuditSource interface {
	RecentEntries(guildID string, action AuditAction, limit int) ([]AuditEntry, error)
}

// Role is a granted role with its permission bits.
type Role struct {
	ID          string
	Name        string
	Permissions int64
}

// RoleDirectory resolves a member's current role set.
type RoleDirectory interface {
	MemberRoles(guildID, userID string) ([]Role, error)
}

// RoleRevoker removes roles from a member in one batch operation.
type RoleRevoker interface {
	RevokeRoles(guildID, userID string, roles []Role, reason string) error
}

// AppLogger appends structured entries to the durable application log.
type AppLogger interface {
	AppendLog(level, eventType, message string, extra map[string]interface{}) error
}

// Result reports what one pipeline run concluded and did.
type Result struct {
	Outcome Outcome
	Action  ActionKind
	ActorID string
	Removed []string
	Err     error
}

type Pipeline struct {
	audit AuditSource
	dir   RoleDirectory
	rev   RoleRevoker
	logs  AppLogger
}

func NewPipeline(audit AuditSource, dir RoleDirectory, rev RoleRevoker, logs AppLogger) *Pipeline {
	return &Pipeline{audit: audit, dir: dir, rev: rev, logs: logs}
}

// Handle runs DETECT, ATTRIBUTE, AUTHORIZE and REMEDIATE for one transition.
// It never panics and never returns without a typed outcome; the dispatcher
// logs the result and moves on.
func (p *Pipeline) Handle(snap *config.Snapshot, t Transition) Result {
	// DETECT
	if !snap.VoiceProtection {
		return Result{Outcome: OutcomeDisabled}
	}
	if snap.OwnerID == "" || t.UserID != snap.OwnerID {
		return Result{Outcome: OutcomeNotProtected}
	}

	action, ok := detectEdge(t.Before, t.After)
	if !ok {
		return Result{Outcome: OutcomeNoEdge}
	}

	// ATTRIBUTE
	actorID, res := p.attribute(t.GuildID, snap.OwnerID, action)
	if res != nil {
		res.Action = action
		return *res
	}

	// AUTHORIZE
	if actorID == snap.OwnerID {
		return Result{Outcome: OutcomeSelf, Action: action, ActorID: actorID}
	}

	roles, err := p.dir.MemberRoles(t.GuildID, actorID)
	if err != nil {
		return p.fail(action, actorID, t.GuildID, fmt.Errorf("role lookup failed: %w", err))
	}

	revocable := filterRevocable(roles)
	if len(revocable) == 0 {
		return Result{Outcome: OutcomeNoRoles, Action: action, ActorID: actorID}
	}

	// REMEDIATE
	if err := p.rev.RevokeRoles(t.GuildID, actorID, revocable, revokeReason); err != nil {
		return p.fail(action, actorID, t.GuildID, fmt.Errorf("role revocation failed: %w", err))
	}

	names := make([]string, len(revocable))
	for i, r := range revocable {
		names[i] = r.Name
	}

	p.appendLog("INFO", "voice_protection",
		"Voice protection triggered: roles removed from perpetrator.",
		map[string]interface{}{
			"perpetrator_id": actorID,
			"roles_removed":  names,
			"action":         action.String(),
			"guild_id":       t.GuildID,
		})

	return Result{Outcome: OutcomeRemediated, Action: action, ActorID: actorID, Removed: names}
}

// attribute scans the bounded audit window for the latest entry targeting the
// owner. A nil second return means attribution succeeded.
func (p *Pipeline) attribute(guildID, ownerID string, action ActionKind) (string, *Result) {
	entries, err := p.audit.RecentEntries(guildID, auditCategory(action), auditLookback)
	if err != nil {
		r := p.fail(action, "", guildID, fmt.Errorf("audit fetch failed: %w", err))
		return "", &r
	}

	for i := range entries {
		if entries[i].TargetID == ownerID {
			return entries[i].ActorID, nil
		}
	}
	return "", &Result{Outcome: OutcomeNoActor}
}

func (p *Pipeline) fail(action ActionKind, actorID, guildID string, err error) Result {
	p.appendLog("ERROR", "voice_protection_error", err.Error(), map[string]interface{}{
		"perpetrator_id": actorID,
		"action":         action.String(),
		"guild_id":       guildID,
	})
	return Result{Outcome: OutcomeError, Action: action, ActorID: actorID, Err: err}
}

func (p *Pipeline) appendLog(level, eventType, message string, extra map[string]interface{}) {
	if err := p.logs.AppendLog(level, eventType, message, extra); err != nil {
		logging.Warn("app log append failed: %v", err)
	}
}

// detectEdge compares previous and new state; only fresh mute, fresh deafen
// or channel-to-none transitions qualify.
func detectEdge(before, after VoiceState) (ActionKind, bool) {
	switch {
	case !before.Mute && after.Mute:
		return ActionMute, true
	case !before.Deaf && after.Deaf:
		return ActionDeafen, true
	case before.ChannelID != "" && after.ChannelID == "":
		return ActionDisconnect, true
	default:
		return 0, false
	}
}

// auditCategory maps the detected action onto the audit-log category where
// Discord records it: mute and deafen are member updates, a forced disconnect
// surfaces as a member move.
func auditCategory(action ActionKind) AuditAction {
	if action == ActionDisconnect {
		return AuditMemberMove
	}
	return AuditMemberUpdate
}

func filterRevocable(roles []Role) []Role {
	var out []Role
	for _, r := range roles {
		if r.Permissions&revocableCapabilities != 0 {
			out = append(out, r)
		}
	}
	return out
}
