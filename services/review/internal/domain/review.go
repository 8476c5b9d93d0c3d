package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/localguide/reviews/pkg/slug"
)

// ModerationState is the lifecycle state of a review.
type ModerationState string

const (
	StatePending  ModerationState = "pending"
	StateApproved ModerationState = "approved"
	StateRejected ModerationState = "rejected"
)

// Valid reports whether s is a known state.
func (s ModerationState) Valid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s ModerationState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// ErrInvalidTransition is returned when a moderation decision would move a
// review out of a terminal state.
var ErrInvalidTransition = errors.New("invalid moderation transition")

// CanTransition reports whether a review may move from one state to another.
// Pending is the only state with outgoing edges and both targets are terminal.
func CanTransition(from, to ModerationState) bool {
	return from == StatePending && to.Terminal()
}

// Scope partitions the review store. Reviews never cross scopes.
type Scope struct {
	SiteSlug   string `json:"siteSlug"`
	EntityType string `json:"entityType"`
	EntitySlug string `json:"entitySlug"`
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s", s.SiteSlug, s.EntityType, s.EntitySlug)
}

// Valid reports whether every segment of the scope is a URL slug.
func (s Scope) Valid() bool {
	return slug.Valid(s.SiteSlug) && slug.Valid(s.EntityType) && slug.Valid(s.EntitySlug)
}

// Review is a single rating with its comment and moderation status.
type Review struct {
	ID              string          `json:"id"`
	Scope           Scope           `json:"scope"`
	Rating          int             `json:"rating"`
	DisplayName     string          `json:"displayName"`
	Body            string          `json:"body"`
	CreatedAt       time.Time       `json:"createdAt"`
	ModerationState ModerationState `json:"moderationState"`
	ModeratedAt     *time.Time      `json:"moderatedAt,omitempty"`
	ModeratedBy     string          `json:"moderatedBy,omitempty"`
	ModerationNote  string          `json:"moderationNote,omitempty"`
}

// Visible reports whether the review may be shown to public readers.
func (r *Review) Visible() bool {
	return r.ModerationState == StateApproved
}

// PublicReview is the projection of a review that anonymous readers see.
// Moderation fields are deliberately absent.
type PublicReview struct {
	ID          string    `json:"id"`
	Rating      int       `json:"rating"`
	DisplayName string    `json:"displayName"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Public returns the public projection of r.
func (r *Review) Public() PublicReview {
	return PublicReview{
		ID:          r.ID,
		Rating:      r.Rating,
		DisplayName: r.DisplayName,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt,
	}
}

// ModerationAction is the audit record written with every state transition.
type ModerationAction struct {
	ID        string          `json:"id"`
	ReviewID  string          `json:"reviewId"`
	FromState ModerationState `json:"fromState"`
	ToState   ModerationState `json:"toState"`
	Moderator string          `json:"moderator"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
