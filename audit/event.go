package audit

import (
	"time"
)

// Action is the closed set of audited operations.
type Action string

const (
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionRegister         Action = "register"
	ActionPasswordChange   Action = "password_change"
	ActionMFAEnable        Action = "mfa_enable"
	ActionMFADisable       Action = "mfa_disable"
	ActionTokenRefresh     Action = "token_refresh"
	ActionAccountLock      Action = "account_lock"
	ActionAccountUnlock    Action = "account_unlock"
	ActionPermissionChange Action = "permission_change"
	ActionDataAccess       Action = "data_access"
	ActionAPICall          Action = "api_call"
	ActionFailedLogin      Action = "failed_login"
	ActionJITAccessRequest Action = "jit_access_request"
	ActionRiskAssessment   Action = "risk_assessment"
)

var knownActions = map[Action]struct{}{
	ActionLogin: {}, ActionLogout: {}, ActionRegister: {}, ActionPasswordChange: {},
	ActionMFAEnable: {}, ActionMFADisable: {}, ActionTokenRefresh: {}, ActionAccountLock: {},
	ActionAccountUnlock: {}, ActionPermissionChange: {}, ActionDataAccess: {}, ActionAPICall: {},
	ActionFailedLogin: {}, ActionJITAccessRequest: {}, ActionRiskAssessment: {},
}

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// ParseAction converts s into an Action, reporting false for unknown values.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	return a, a.Valid()
}

// Status is the outcome recorded on an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusWarning Status = "warning"
)

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusWarning:
		return true
	}
	return false
}

// Origin is the network metadata of the request that produced an event or session.
type Origin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Event is one immutable audit record.
type Event struct {
	ID         string         `json:"id"`
	IdentityID string         `json:"identity_id,omitempty"`
	Action     Action         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	Origin     Origin         `json:"origin"`
	Status     Status         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	RiskScore  *int           `json:"risk_score,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// WithRisk returns a copy of ev carrying score.
func (ev Event) WithRisk(score int) Event {
	ev.RiskScore = &score
	return ev
}

const (
	// DefaultQueryLimit applies when a Query leaves Limit unset.
	DefaultQueryLimit = 100
	// MaxQueryLimit bounds any single query.
	MaxQueryLimit = 1000
)

// Query filters the audit trail. Zero-valued fields do not filter.
// Results are ordered newest first.
type Query struct {
	IdentityID string
	Action     Action
	Status     Status
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Normalized returns q with Limit defaulted and capped.
func (q Query) Normalized() Query {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		q.Limit = MaxQueryLimit
	}
	return q
}

// Matches reports whether ev satisfies every filter in q. Since is inclusive
// and Until is exclusive.
func (q Query) Matches(ev Event) bool {
	if q.IdentityID != "" && ev.IdentityID != q.IdentityID {
		return false
	}
	if q.Action != "" && ev.Action != q.Action {
		return false
	}
	if q.Status != "" && ev.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !ev.Timestamp.Before(q.Until) {
		return false
	}
	return true
}
