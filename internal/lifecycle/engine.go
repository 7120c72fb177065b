// Package lifecycle holds the pure state-machine logic of the
// submission lifecycle: legal transitions, validation, role gating,
// and the side-effect triggers fired after a transition commits.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/metrics"
	"geneva-listings/internal/common/observability"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/store"
)

// Publisher posts a submission to the public channel and returns the
// external reference stored as published_ref. Implemented by the
// publication projector.
type Publisher interface {
	Publish(ctx context.Context, sub *domain.Submission) (string, error)
	Unpublish(ctx context.Context, sub *domain.Submission) error
}

// Sink receives every committed domain event. Sinks must tolerate
// at-least-once delivery; the map feed is rebuildable so a missed or
// repeated event never corrupts state.
type Sink interface {
	HandleEvent(ctx context.Context, event *domain.Event, sub *domain.Submission)
}

// Engine applies lifecycle commands against the store. It owns no
// state of its own: every decision is made on the snapshot read at
// call time and committed with that snapshot's version.
type Engine struct {
	store     *store.SubmissionStore
	schemas   *SchemaRegistry
	publisher Publisher
	sinks     []Sink
	obs       *observability.Observability
	logger    logger.Logger
}

func NewEngine(st *store.SubmissionStore, schemas *SchemaRegistry, log logger.Logger) *Engine {
	return &Engine{
		store:   st,
		schemas: schemas,
		logger:  log.WithFields(map[string]interface{}{"component": "lifecycle"}),
	}
}

// SetPublisher wires the publication projector. Publish transitions
// fail until one is set.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// Subscribe registers an event sink. Not safe to call once the engine
// is serving requests.
func (e *Engine) Subscribe(s Sink) {
	e.sinks = append(e.sinks, s)
}

// SetObservability wires the OpenTelemetry transition counters.
func (e *Engine) SetObservability(obs *observability.Observability) {
	e.obs = obs
}

// CreateSubmission validates applicant input and inserts a new
// submission in pending_review at version 1. The ingestion adapter
// already validated payload completeness; this re-validates so a
// misbehaving adapter can never write an invalid row.
func (e *Engine) CreateSubmission(ctx context.Context, kind domain.Kind, ownerRef string, payload domain.Payload) (*domain.Submission, error) {
	if kind != domain.KindListing && kind != domain.KindRequest {
		return nil, stderrors.NewValidationError("unknown submission kind: " + string(kind))
	}
	if ownerRef == "" {
		return nil, stderrors.NewValidationError("owner_ref is required")
	}
	if err := e.schemas.ValidatePayload(kind, payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &domain.Submission{
		ID:        uuid.New().String(),
		Kind:      kind,
		OwnerRef:  ownerRef,
		Payload:   payload,
		Status:    domain.StatusPendingReview,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	event := &domain.Event{
		ID:           uuid.New().String(),
		SubmissionID: sub.ID,
		OldStatus:    domain.StatusDraft,
		NewStatus:    domain.StatusPendingReview,
		ActorRef:     ownerRef,
		ActorRole:    domain.RoleOwner,
		At:           now,
	}

	if err := e.store.Create(ctx, sub, event); err != nil {
		return nil, err
	}
	e.dispatch(ctx, event, sub)

	metrics.TransitionsApplied.WithLabelValues(string(domain.ActionSubmit), string(sub.Status)).Inc()
	return sub, nil
}

// TransitionArgs carries the optional parameters of a transition.
type TransitionArgs struct {
	// Reason is required for reject; ignored elsewhere.
	Reason string
}

// Apply executes one lifecycle action against the submission snapshot
// identified by (id, expectedVersion). On success the updated
// submission is returned; on any error no mutation has happened.
//
// Error contract: InvalidTransitionError for an edge not in the
// table, ForbiddenActionError for a legal edge issued under the wrong
// role, ValidationError for missing arguments, StaleVersionError when
// another actor committed first.
func (e *Engine) Apply(ctx context.Context, id string, expectedVersion int64, action domain.Action, actorRef string, role domain.Role, args TransitionArgs) (*domain.Submission, error) {
	started := time.Now()

	sub, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// A caller presenting an outdated version must hear "stale", not
	// whatever edge or role error the newer state happens to produce.
	// This also keeps a doomed publish from posting to the channel.
	if sub.Version != expectedVersion {
		metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeStaleVersion)).Inc()
		return nil, stderrors.NewStaleVersionError(id, expectedVersion)
	}

	next, ok := sub.Status.Next(action)
	if !ok {
		// Taking down a published post is a moderator operation. An
		// owner asking to withdraw here is a role problem, not a
		// missing edge.
		if sub.Status == domain.StatusPublished && action == domain.ActionWithdraw {
			metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeForbiddenAction)).Inc()
			return nil, stderrors.NewForbiddenActionError(string(action), string(role))
		}
		metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeInvalidTransition)).Inc()
		return nil, stderrors.NewInvalidTransitionError(string(sub.Status), string(action))
	}

	requiredRole, _ := sub.Status.ActionRole(action)
	if role != requiredRole {
		metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeForbiddenAction)).Inc()
		e.logger.Warn("action issued through wrong role path", map[string]interface{}{
			"submissionId": id,
			"action":       action,
			"role":         role,
			"actorRef":     actorRef,
		})
		return nil, stderrors.NewForbiddenActionError(string(action), string(role))
	}

	// Owners may only act on their own submissions.
	if role == domain.RoleOwner && sub.OwnerRef != actorRef {
		metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeForbiddenAction)).Inc()
		return nil, stderrors.NewForbiddenActionError(string(action), string(role))
	}

	if action == domain.ActionReject && args.Reason == "" {
		metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeValidationFailed)).Inc()
		return nil, stderrors.NewValidationError("reject requires a non-empty reason")
	}

	updated := *sub
	oldStatus := sub.Status
	updated.Status = next
	updated.UpdatedAt = time.Now().UTC()

	switch action {
	case domain.ActionApprove, domain.ActionPublish, domain.ActionUnpublish:
		updated.ModeratorRef = actorRef
		updated.RejectionReason = ""
	case domain.ActionReject:
		updated.ModeratorRef = actorRef
		updated.RejectionReason = args.Reason
	default:
		updated.RejectionReason = ""
	}

	var publishedRef string
	switch action {
	case domain.ActionPublish:
		if e.publisher == nil {
			return nil, stderrors.NewPublicationFailedError(errNoPublisher)
		}
		if err := validatePublishable(&updated); err != nil {
			metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeValidationFailed)).Inc()
			return nil, err
		}
		publishedRef, err = e.publisher.Publish(ctx, &updated)
		if err != nil {
			return nil, err
		}
		updated.PublishedRef = publishedRef
	case domain.ActionUnpublish:
		// published_ref is cleared atomically with the status change;
		// the channel message comes down after the commit and the map
		// record is removed by the sinks.
		updated.PublishedRef = ""
	}

	event := &domain.Event{
		ID:           uuid.New().String(),
		SubmissionID: sub.ID,
		OldStatus:    oldStatus,
		NewStatus:    next,
		ActorRef:     actorRef,
		ActorRole:    role,
		Reason:       args.Reason,
		At:           updated.UpdatedAt,
	}

	if err := e.store.UpdateVersioned(ctx, &updated, expectedVersion, event); err != nil {
		if action == domain.ActionPublish && publishedRef != "" {
			// Lost the race after posting; take the channel message
			// back down so the projection matches the store.
			if uerr := e.publisher.Unpublish(ctx, &updated); uerr != nil {
				e.logger.Error("failed to retract channel post after lost race", map[string]interface{}{
					"submissionId": sub.ID,
					"publishedRef": publishedRef,
					"error":        uerr,
				})
			}
		}
		if stderrors.IsCode(err, stderrors.ErrCodeStaleVersion) {
			metrics.TransitionsRejected.WithLabelValues(string(action), string(stderrors.ErrCodeStaleVersion)).Inc()
		}
		return nil, err
	}

	if action == domain.ActionUnpublish && sub.PublishedRef != "" && e.publisher != nil {
		retract := *sub
		if err := e.publisher.Unpublish(ctx, &retract); err != nil {
			// The store already says withdrawn; the lingering channel
			// post needs manual cleanup.
			e.logger.Error("failed to delete channel post on unpublish", map[string]interface{}{
				"submissionId": sub.ID,
				"publishedRef": sub.PublishedRef,
				"error":        err,
			})
		}
	}

	e.dispatch(ctx, event, &updated)

	metrics.TransitionsApplied.WithLabelValues(string(action), string(next)).Inc()
	metrics.TransitionDuration.WithLabelValues(string(action)).Observe(time.Since(started).Seconds())
	if e.obs != nil {
		e.obs.RecordTransition(ctx, string(action), string(next))
		e.obs.RecordTransitionDuration(ctx, time.Since(started), string(action))
	}

	e.logger.Info("transition applied", map[string]interface{}{
		"submissionId": sub.ID,
		"action":       action,
		"oldStatus":    oldStatus,
		"newStatus":    next,
		"actorRef":     actorRef,
		"version":      updated.Version,
	})

	return &updated, nil
}

// UpdatePayload replaces the payload of a submission that is still
// editable. Owners edit their own; moderators edit anything still in
// draft or pending_review. The edit is versioned like a transition and
// audited as a status-preserving event.
func (e *Engine) UpdatePayload(ctx context.Context, id string, expectedVersion int64, payload domain.Payload, actorRef string, role domain.Role) (*domain.Submission, error) {
	sub, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Version != expectedVersion {
		return nil, stderrors.NewStaleVersionError(id, expectedVersion)
	}
	if !sub.Status.PayloadMutable() {
		return nil, stderrors.NewInvalidTransitionError(string(sub.Status), "edit_payload")
	}
	if role == domain.RoleOwner && sub.OwnerRef != actorRef {
		return nil, stderrors.NewForbiddenActionError("edit_payload", string(role))
	}
	if err := e.schemas.ValidatePayload(sub.Kind, payload); err != nil {
		return nil, err
	}

	updated := *sub
	updated.Payload = payload
	updated.UpdatedAt = time.Now().UTC()

	event := &domain.Event{
		ID:           uuid.New().String(),
		SubmissionID: sub.ID,
		OldStatus:    sub.Status,
		NewStatus:    sub.Status,
		ActorRef:     actorRef,
		ActorRole:    role,
		Reason:       "payload edited",
		At:           updated.UpdatedAt,
	}

	if err := e.store.UpdateVersioned(ctx, &updated, expectedVersion, event); err != nil {
		return nil, err
	}

	e.dispatch(ctx, event, &updated)
	return &updated, nil
}

func (e *Engine) dispatch(ctx context.Context, event *domain.Event, sub *domain.Submission) {
	for _, sink := range e.sinks {
		sink.HandleEvent(ctx, event, sub)
	}
}

// validatePublishable enforces what the public map needs: a listing
// must carry an address and coordinates before it can be published.
// Requests go to the channel only and need neither.
func validatePublishable(sub *domain.Submission) error {
	if sub.Kind != domain.KindListing {
		return nil
	}
	if sub.Payload.Address == "" {
		return stderrors.NewValidationError("listing cannot be published without an address")
	}
	if !sub.Payload.HasCoordinates() {
		return stderrors.NewValidationError("listing cannot be published without coordinates")
	}
	return nil
}

type engineErr string

func (e engineErr) Error() string { return string(e) }

const errNoPublisher = engineErr("no publisher configured")
