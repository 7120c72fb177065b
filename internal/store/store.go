// Package store is the durable, transactional keeper of submissions
// and moderation metadata. It is the single source of truth; every
// mutation goes through the conditional-write path so that concurrent
// actors serialize on the version counter instead of locks.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/metrics"
	"geneva-listings/internal/domain"

	stderrors "geneva-listings/internal/common/errors"
)

// SubmissionStore persists submissions and their audit trail in
// PostgreSQL.
type SubmissionStore struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *SubmissionStore {
	return &SubmissionStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// Migrate creates the schema. Idempotent.
func (s *SubmissionStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			id               TEXT PRIMARY KEY,
			kind             TEXT NOT NULL,
			owner_ref        TEXT NOT NULL,
			payload          JSONB NOT NULL,
			status           TEXT NOT NULL,
			moderator_ref    TEXT NOT NULL DEFAULT '',
			rejection_reason TEXT NOT NULL DEFAULT '',
			published_ref    TEXT NOT NULL DEFAULT '',
			version          BIGINT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status_created
			ON submissions (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_owner
			ON submissions (owner_ref, created_at)`,
		`CREATE TABLE IF NOT EXISTS submission_events (
			id            TEXT PRIMARY KEY,
			submission_id TEXT NOT NULL,
			old_status    TEXT NOT NULL,
			new_status    TEXT NOT NULL,
			actor_ref     TEXT NOT NULL,
			actor_role    TEXT NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_submission
			ON submission_events (submission_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Create inserts a brand new submission together with its creation
// event, committing both in one transaction so the audit trail starts
// at the first row. The caller sets version 1; anything else is a
// programming error surfaced as a query failure.
func (s *SubmissionStore) Create(ctx context.Context, sub *domain.Submission, event *domain.Event) error {
	payloadJSON, err := json.Marshal(sub.Payload)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("create", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (
			id, kind, owner_ref, payload, status, moderator_ref,
			rejection_reason, published_ref, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		sub.ID,
		string(sub.Kind),
		sub.OwnerRef,
		payloadJSON,
		string(sub.Status),
		sub.ModeratorRef,
		sub.RejectionReason,
		sub.PublishedRef,
		sub.Version,
		sub.CreatedAt,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("create", err)
	}

	if event != nil {
		if err := appendEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}

	s.logger.Info("submission created", map[string]interface{}{
		"submissionId": sub.ID,
		"kind":         sub.Kind,
	})
	return nil
}

const submissionColumns = `id, kind, owner_ref, payload, status, moderator_ref,
	rejection_reason, published_ref, version, created_at, updated_at`

// GetByID returns the latest committed snapshot, including version.
func (s *SubmissionStore) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)

	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, stderrors.NewSubmissionNotFoundError(id)
		}
		return nil, stderrors.NewQueryExecutionFailedError("get", err)
	}
	return sub, nil
}

// UpdateVersioned applies a full-row update conditioned on the version
// the caller read, appends the transition event, and commits both in
// one transaction. Zero affected rows means another actor won the
// race: StaleVersionError, nothing written.
func (s *SubmissionStore) UpdateVersioned(ctx context.Context, sub *domain.Submission, expectedVersion int64, event *domain.Event) error {
	payloadJSON, err := json.Marshal(sub.Payload)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("update", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE submissions SET
			payload = $1,
			status = $2,
			moderator_ref = $3,
			rejection_reason = $4,
			published_ref = $5,
			version = version + 1,
			updated_at = $6
		WHERE id = $7 AND version = $8`,
		payloadJSON,
		string(sub.Status),
		sub.ModeratorRef,
		sub.RejectionReason,
		sub.PublishedRef,
		sub.UpdatedAt,
		sub.ID,
		expectedVersion,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("update", err)
	}
	if affected == 0 {
		return stderrors.NewStaleVersionError(sub.ID, expectedVersion)
	}

	if event != nil {
		if err := appendEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}

	sub.Version = expectedVersion + 1
	return nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO submission_events (
			id, submission_id, old_status, new_status,
			actor_ref, actor_role, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		event.SubmissionID,
		string(event.OldStatus),
		string(event.NewStatus),
		event.ActorRef,
		string(event.ActorRole),
		event.Reason,
		event.At,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("append_event", err)
	}
	return nil
}

// PendingQueue returns submissions awaiting moderation, oldest first.
// Plain MVCC read; concurrent writers are never blocked.
func (s *SubmissionStore) PendingQueue(ctx context.Context) ([]*domain.Submission, error) {
	subs, err := s.queryByStatus(ctx, domain.StatusPendingReview, "created_at ASC")
	if err != nil {
		return nil, err
	}
	metrics.PendingQueueDepth.Set(float64(len(subs)))
	return subs, nil
}

// Published returns the map feed source set.
func (s *SubmissionStore) Published(ctx context.Context) ([]*domain.Submission, error) {
	return s.queryByStatus(ctx, domain.StatusPublished, "updated_at DESC")
}

// ByStatus returns every submission currently in the given state,
// oldest first.
func (s *SubmissionStore) ByStatus(ctx context.Context, status domain.Status) ([]*domain.Submission, error) {
	return s.queryByStatus(ctx, status, "created_at ASC")
}

func (s *SubmissionStore) queryByStatus(ctx context.Context, status domain.Status, order string) ([]*domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = $1 ORDER BY `+order,
		string(status))
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("query_by_status", err)
	}
	defer rows.Close()

	var subs []*domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("scan", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("query_by_status", err)
	}
	return subs, nil
}

// OwnedBy returns the submissions created by one applicant, newest
// first. Used by the hunter bot for withdraw/edit command targeting.
func (s *SubmissionStore) OwnedBy(ctx context.Context, ownerRef string) ([]*domain.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE owner_ref = $1 ORDER BY created_at DESC`, ownerRef)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("owned_by", err)
	}
	defer rows.Close()

	var subs []*domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("scan", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("owned_by", err)
	}
	return subs, nil
}

// LastSubmissionTime returns when the owner last created a submission,
// or the zero time if never. Drives the anti-spam cooldown.
func (s *SubmissionStore) LastSubmissionTime(ctx context.Context, ownerRef string) (time.Time, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM submissions
		WHERE owner_ref = $1 ORDER BY created_at DESC LIMIT 1`,
		ownerRef).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, stderrors.NewQueryExecutionFailedError("last_submission_time", err)
	}
	return created, nil
}

// Stats summarizes the store for the /stats command and the admin panel.
type Stats struct {
	PendingCount   int `json:"pending_count"`
	PublishedCount int `json:"active_count"`
	TodayCount     int `json:"today_count"`
}

func (s *SubmissionStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending_review'),
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'published' AND updated_at::date = now()::date)
		FROM submissions`).Scan(&st.PendingCount, &st.PublishedCount, &st.TodayCount)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("stats", err)
	}
	metrics.PendingQueueDepth.Set(float64(st.PendingCount))
	return &st, nil
}

// EventsBySubmission returns the append-only audit trail for one
// submission, oldest first.
func (s *SubmissionStore) EventsBySubmission(ctx context.Context, submissionID string) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, old_status, new_status, actor_ref, actor_role, reason, created_at
		FROM submission_events
		WHERE submission_id = $1 ORDER BY created_at ASC`, submissionID)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("events", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var ev domain.Event
		var oldStatus, newStatus, role string
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &oldStatus, &newStatus,
			&ev.ActorRef, &role, &ev.Reason, &ev.At); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("scan", err)
		}
		ev.OldStatus = domain.Status(oldStatus)
		ev.NewStatus = domain.Status(newStatus)
		ev.ActorRole = domain.Role(role)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("events", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*domain.Submission, error) {
	var sub domain.Submission
	var kind, status string
	var payloadJSON []byte

	err := row.Scan(
		&sub.ID,
		&kind,
		&sub.OwnerRef,
		&payloadJSON,
		&status,
		&sub.ModeratorRef,
		&sub.RejectionReason,
		&sub.PublishedRef,
		&sub.Version,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Kind = domain.Kind(kind)
	sub.Status = domain.Status(status)
	if err := json.Unmarshal(payloadJSON, &sub.Payload); err != nil {
		return nil, fmt.Errorf("corrupt payload for %s: %w", sub.ID, err)
	}
	return &sub, nil
}
