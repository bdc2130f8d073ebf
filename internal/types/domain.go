package types

import (
	"strings"
	"time"
)

// Subject identifies a billable entity in the billing service. Each user maps
// to exactly one subject, derived deterministically by SubjectForUser.
type Subject string

// subjectPrefix is prepended to a user ID to form its billing organization key.
const subjectPrefix = "org:"

// SubjectForUser returns the billing subject for the given user ID.
func SubjectForUser(userID string) Subject {
	return Subject(subjectPrefix + userID)
}

// UserID returns the user ID a subject was derived from, or "" if the
// subject does not carry the expected prefix.
func (s Subject) UserID() string {
	id, ok := strings.CutPrefix(string(s), subjectPrefix)
	if !ok {
		return ""
	}
	return id
}

// FeatureName is the stable key of a gated capability (e.g. "feature:notes:total").
type FeatureName string

// Metered features used by the notes application.
const (
	FeatureNotesTotal FeatureName = "feature:notes:total"
	FeatureNotesEdit  FeatureName = "feature:notes:edit"
)

// PlanName is a versioned plan identifier such as "plan:free@v1".
type PlanName string

// HasPrefix reports whether the plan identifier starts with prefix.
func (p PlanName) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(p), prefix)
}

// Tier is one step of a feature's tiered pricing schedule. Prices are in
// cents. Zero values mean "absent", matching the billing service's JSON which
// omits them: Upto == 0 is an unlimited ceiling, Base == 0 is no flat price,
// Price == 0 is no per-unit price.
type Tier struct {
	Upto  int64   `json:"upto,omitempty"`
	Price float64 `json:"price,omitempty"`
	Base  int64   `json:"base,omitempty"`
}

// Unlimited reports whether the tier has no usage ceiling.
func (t Tier) Unlimited() bool { return t.Upto == 0 }

// Free reports whether the tier carries neither a flat nor a per-unit price.
func (t Tier) Free() bool { return t.Base == 0 && t.Price == 0 }

// FeatureDef is a plan's grant of a single feature.
type FeatureDef struct {
	Title     string `json:"title,omitempty"`
	Base      int64  `json:"base,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Aggregate string `json:"aggregate,omitempty"`
	Tiers     []Tier `json:"tiers,omitempty"`
}

// Plan is an immutable, versioned bundle of feature grants.
type Plan struct {
	Title    string                     `json:"title,omitempty"`
	Currency string                     `json:"currency,omitempty"`
	Interval string                     `json:"interval,omitempty"`
	Features map[FeatureName]FeatureDef `json:"features,omitempty"`
}

// Model is the billing service's plan catalog keyed by plan identifier.
type Model struct {
	Plans map[PlanName]Plan `json:"plans"`
}

// Phase is a subject's currently active enrollment.
type Phase struct {
	Effective time.Time  `json:"effective"`
	End       *time.Time `json:"end,omitempty"`
	Features  []string   `json:"features,omitempty"`
	Plans     []PlanName `json:"plans,omitempty"`
	Fragments []string   `json:"fragments,omitempty"`
}

// HasPlan reports whether the phase includes the given plan.
func (p *Phase) HasPlan(name PlanName) bool {
	if p == nil {
		return false
	}
	for _, pl := range p.Plans {
		if pl == name {
			return true
		}
	}
	return false
}

// Usage is a subject's consumption of a single feature against its limit.
type Usage struct {
	Feature FeatureName `json:"feature"`
	Used    int64       `json:"used"`
	Limit   int64       `json:"limit"`
}

// Allows reports whether at least one more unit fits under the limit.
func (u Usage) Allows() bool {
	return u.Used < u.Limit
}

// UsageReport is a single usage-recording request. When Clobber is set, N
// replaces the current counter instead of being added to it.
type UsageReport struct {
	Subject Subject     `json:"subject"`
	Feature FeatureName `json:"feature"`
	N       int64       `json:"n"`
	At      time.Time   `json:"at"`
	Clobber bool        `json:"clobber,omitempty"`
}

// User is an account holder. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Subject returns the user's billing subject.
func (u *User) Subject() Subject {
	return SubjectForUser(u.ID)
}

// Note is a single user-owned note.
type Note struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NoteListItem is the lightweight projection used by note lists.
type NoteListItem struct {
	ID    string `json:"id" db:"id"`
	Title string `json:"title" db:"title"`
}
