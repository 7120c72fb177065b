package domain

import "time"

// Kind distinguishes housing offers from seeker requests.
type Kind string

const (
	KindListing Kind = "listing" // owner offers housing
	KindRequest Kind = "request" // seeker looks for housing
)

// RentTerm applies to listings only.
type RentTerm string

const (
	RentLongTerm RentTerm = "long_term"
	RentDaily    RentTerm = "daily"
)

// Payload holds the applicant-provided attributes of a submission.
// It is mutable only while the submission is in draft or pending_review.
type Payload struct {
	Description    string   `json:"description"`
	Address        string   `json:"address,omitempty"`
	Latitude       float64  `json:"latitude,omitempty"`
	Longitude      float64  `json:"longitude,omitempty"`
	Price          int      `json:"price,omitempty"`
	RentTerm       RentTerm `json:"rent_term,omitempty"`
	PhotoRefs      []string `json:"photo_refs,omitempty"`
	Contact        string   `json:"contact,omitempty"`
	AuthorUsername string   `json:"author_username,omitempty"`
}

// Submission is the central entity moving through the moderation
// lifecycle. Never physically deleted; withdrawn is a tombstone.
type Submission struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	OwnerRef        string    `json:"owner_ref"`
	Payload         Payload   `json:"payload"`
	Status          Status    `json:"status"`
	ModeratorRef    string    `json:"moderator_ref,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	PublishedRef    string    `json:"published_ref,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasCoordinates reports whether the payload carries a map position.
func (p Payload) HasCoordinates() bool {
	return p.Latitude != 0 || p.Longitude != 0
}

// CheckInvariants verifies the field combinations that must hold in
// every committed snapshot: rejection reason iff rejected, published
// ref iff published, a positive version, and a known status.
func (s *Submission) CheckInvariants() error {
	if !s.Status.Valid() {
		return invariantErr("unknown status " + string(s.Status))
	}
	if (s.RejectionReason != "") != (s.Status == StatusRejected) {
		return invariantErr("rejection_reason must be set iff status is rejected")
	}
	if (s.PublishedRef != "") != (s.Status == StatusPublished) {
		return invariantErr("published_ref must be set iff status is published")
	}
	if s.Version < 1 {
		return invariantErr("version must be >= 1")
	}
	return nil
}

type invariantErr string

func (e invariantErr) Error() string { return "submission invariant violated: " + string(e) }
