package domain

// Status is the submission lifecycle state. It is a closed set: the
// only legal movements between values are the edges in transitionTable.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusPublished     Status = "published"
	StatusWithdrawn     Status = "withdrawn"
)

// Action is a lifecycle command issued by an owner or a moderator.
type Action string

const (
	ActionSubmit      Action = "submit"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionPublish     Action = "publish"
	ActionRequestEdit Action = "request_edit"
	ActionWithdraw    Action = "withdraw"
	ActionUnpublish   Action = "unpublish"
)

// Role identifies which adapter path a command arrived through.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
)

type edge struct {
	from   Status
	action Action
}

type transition struct {
	to   Status
	role Role
}

// transitionTable is the single source of truth for the state machine.
// An (status, action) pair absent from this map is an illegal transition.
var transitionTable = map[edge]transition{
	{StatusDraft, ActionSubmit}:          {StatusPendingReview, RoleOwner},
	{StatusPendingReview, ActionApprove}: {StatusApproved, RoleModerator},
	{StatusPendingReview, ActionReject}:  {StatusRejected, RoleModerator},
	{StatusApproved, ActionPublish}:      {StatusPublished, RoleModerator},
	{StatusApproved, ActionReject}:       {StatusRejected, RoleModerator},
	{StatusPendingReview, ActionRequestEdit}: {StatusDraft, RoleOwner},
	{StatusDraft, ActionWithdraw}:            {StatusWithdrawn, RoleOwner},
	{StatusPendingReview, ActionWithdraw}:    {StatusWithdrawn, RoleOwner},
	{StatusApproved, ActionWithdraw}:         {StatusWithdrawn, RoleOwner},
	{StatusPublished, ActionUnpublish}:       {StatusWithdrawn, RoleModerator},
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved,
		StatusRejected, StatusPublished, StatusWithdrawn:
		return true
	}
	return false
}

// Terminal reports whether no action can ever leave s.
func (s Status) Terminal() bool {
	return s == StatusWithdrawn
}

// Next resolves the target state of applying action in state s.
// The second return is false when the edge does not exist.
func (s Status) Next(action Action) (Status, bool) {
	t, ok := transitionTable[edge{s, action}]
	if !ok {
		return "", false
	}
	return t.to, true
}

// ActionRole returns the role an action must be issued under when
// applied in state s. False when the edge does not exist.
func (s Status) ActionRole(action Action) (Role, bool) {
	t, ok := transitionTable[edge{s, action}]
	if !ok {
		return "", false
	}
	return t.role, true
}

// PayloadMutable reports whether the submission payload may still be
// edited in state s.
func (s Status) PayloadMutable() bool {
	return s == StatusDraft || s == StatusPendingReview
}
