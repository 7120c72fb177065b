package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/metrics"
	"geneva-listings/internal/domain"
)

var submissionCols = []string{
	"id", "kind", "owner_ref", "payload", "status", "moderator_ref",
	"rejection_reason", "published_ref", "version", "created_at", "updated_at",
}

func newTestStore(t *testing.T) (*SubmissionStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return New(db, logger.NewTestLogger(t)), mock, db
}

func testSubmission() *domain.Submission {
	now := time.Now().UTC()
	return &domain.Submission{
		ID:       "sub-1",
		Kind:     domain.KindListing,
		OwnerRef: "owner-1",
		Payload: domain.Payload{
			Description: "Two-room flat with a balcony",
			Price:       7500,
			RentTerm:    domain.RentLongTerm,
			Contact:     "+380501112233",
		},
		Status:    domain.StatusPendingReview,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func rowFor(sub *domain.Submission) *sqlmock.Rows {
	payloadJSON, _ := json.Marshal(sub.Payload)
	return sqlmock.NewRows(submissionCols).AddRow(
		sub.ID, string(sub.Kind), sub.OwnerRef, payloadJSON, string(sub.Status),
		sub.ModeratorRef, sub.RejectionReason, sub.PublishedRef,
		sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
}

func TestCreate_InsertsRowAndCreationEvent(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	sub := testSubmission()
	event := &domain.Event{
		ID:           "ev-0",
		SubmissionID: sub.ID,
		OldStatus:    domain.StatusDraft,
		NewStatus:    domain.StatusPendingReview,
		ActorRef:     "owner-1",
		ActorRole:    domain.RoleOwner,
		At:           sub.CreatedAt,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO submissions`).
		WithArgs(
			sub.ID, "listing", "owner-1", sqlmock.AnyArg(), "pending_review",
			"", "", "", int64(1), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO submission_events`).
		WithArgs("ev-0", sub.ID, "draft", "pending_review", "owner-1", "owner", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, st.Create(context.Background(), sub, event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_RoundTripsPayload(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	want := testSubmission()
	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE id`).
		WithArgs("sub-1").
		WillReturnRows(rowFor(want))

	got, err := st.GetByID(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Payload.Description, got.Payload.Description)
	assert.Equal(t, want.Payload.Price, got.Payload.Price)
	assert.Equal(t, domain.StatusPendingReview, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeSubmissionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVersioned_CommitsRowAndEvent(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	sub := testSubmission()
	sub.Status = domain.StatusApproved
	sub.ModeratorRef = "mod-1"

	event := &domain.Event{
		ID:           "ev-1",
		SubmissionID: sub.ID,
		OldStatus:    domain.StatusPendingReview,
		NewStatus:    domain.StatusApproved,
		ActorRef:     "mod-1",
		ActorRole:    domain.RoleModerator,
		At:           time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE submissions SET`).
		WithArgs(
			sqlmock.AnyArg(), "approved", "mod-1", "", "",
			sqlmock.AnyArg(), sub.ID, int64(1),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO submission_events`).
		WithArgs("ev-1", sub.ID, "pending_review", "approved", "mod-1", "moderator", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, st.UpdateVersioned(context.Background(), sub, 1, event))
	assert.Equal(t, int64(2), sub.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVersioned_StaleVersion_RollsBack(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	sub := testSubmission()
	sub.Status = domain.StatusApproved

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE submissions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.UpdateVersioned(context.Background(), sub, 1, nil)
	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeStaleVersion))
	// version untouched on failure
	assert.Equal(t, int64(1), sub.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingQueue_OrderedOldestFirst(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	first := testSubmission()
	second := testSubmission()
	second.ID = "sub-2"
	payloadJSON, _ := json.Marshal(first.Payload)

	rows := sqlmock.NewRows(submissionCols).
		AddRow(first.ID, "listing", "owner-1", payloadJSON, "pending_review", "", "", "", int64(1), first.CreatedAt, first.UpdatedAt).
		AddRow(second.ID, "listing", "owner-2", payloadJSON, "pending_review", "", "", "", int64(1), second.CreatedAt, second.UpdatedAt)

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE status = \$1 ORDER BY created_at ASC`).
		WithArgs("pending_review").
		WillReturnRows(rows)

	subs, err := st.PendingQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, "sub-2", subs[1].ID)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PendingQueueDepth))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSubmissionTime_ZeroWhenNone(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT created_at FROM submissions`).
		WithArgs("owner-x").
		WillReturnError(sql.ErrNoRows)

	last, err := st.LastSubmissionTime(context.Background(), "owner-x")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats_Counts(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "published", "today"}).AddRow(3, 12, 2))

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PendingCount)
	assert.Equal(t, 12, stats.PublishedCount)
	assert.Equal(t, 2, stats.TodayCount)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.PendingQueueDepth))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventsBySubmission_AuditTrail(t *testing.T) {
	st, mock, db := newTestStore(t)
	defer db.Close()

	eventCols := []string{"id", "submission_id", "old_status", "new_status", "actor_ref", "actor_role", "reason", "created_at"}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventCols).
		AddRow("ev-1", "sub-1", "draft", "pending_review", "owner-1", "owner", "", now).
		AddRow("ev-2", "sub-1", "pending_review", "rejected", "mod-1", "moderator", "no photos", now.Add(time.Minute))

	mock.ExpectQuery(`SELECT (.+) FROM submission_events`).
		WithArgs("sub-1").
		WillReturnRows(rows)

	events, err := st.EventsBySubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusRejected, events[1].NewStatus)
	assert.Equal(t, "no photos", events[1].Reason)
	assert.Equal(t, domain.RoleModerator, events[1].ActorRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}
