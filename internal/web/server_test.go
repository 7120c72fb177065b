package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geneva-listings/internal/common/config"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/lifecycle"
	"geneva-listings/internal/projector"
	"geneva-listings/internal/store"
)

var submissionCols = []string{
	"id", "kind", "owner_ref", "payload", "status", "moderator_ref",
	"rejection_reason", "published_ref", "version", "created_at", "updated_at",
}

type stubFiles struct{ data []byte }

func (s *stubFiles) SendMessage(ctx context.Context, chatID, text string, opts *telegram.SendOptions) (int64, error) {
	return 0, nil
}
func (s *stubFiles) SendPhoto(ctx context.Context, chatID, fileID, caption string) (int64, error) {
	return 0, nil
}
func (s *stubFiles) SendMediaGroup(ctx context.Context, chatID string, fileIDs []string, caption string) (int64, error) {
	return 0, nil
}
func (s *stubFiles) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	return nil
}
func (s *stubFiles) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return s.data, nil
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Web.JWTSecret = "test-secret"
	cfg.Web.AdminPassword = "hunter2"
	cfg.Moderation.ModeratorIDs = []string{"100500"}

	log := logger.NewTestLogger(t)
	st := store.New(db, log)
	engine := lifecycle.NewEngine(st, lifecycle.MustNewSchemaRegistry(), log)
	proj := projector.NewProjector(st, nil, nil, log)

	srv := NewServer(cfg, engine, st, proj, &stubFiles{data: []byte("jpeg-bytes")}, log)
	return srv, mock, db
}

func (s *Server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func (s *Server) authedToken(t *testing.T) string {
	token, err := s.issueToken("100500")
	require.NoError(t, err)
	return token
}

func submissionRowJSON(id string, status domain.Status, version int64) *sqlmock.Rows {
	payload := domain.Payload{
		Description: "Two-room flat near the center",
		Address:     "вул. Грецька 12",
		Latitude:    46.84,
		Longitude:   35.36,
		Price:       8000,
		RentTerm:    domain.RentLongTerm,
		Contact:     "+380501234567",
	}
	payloadJSON, _ := json.Marshal(payload)
	now := time.Now().UTC()
	publishedRef := ""
	if status == domain.StatusPublished {
		publishedRef = "42"
	}
	return sqlmock.NewRows(submissionCols).AddRow(
		id, "listing", "owner-1", payloadJSON, string(status),
		"", "", publishedRef, version, now, now,
	)
}

// ==========================
// Auth
// ==========================

func TestLogin_IssuesToken(t *testing.T) {
	srv, _, db := newTestServer(t)
	defer db.Close()

	body, _ := json.Marshal(loginRequest{ModeratorID: "100500", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewReader(body))
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLogin_WrongPassword(t *testing.T) {
	srv, _, db := newTestServer(t)
	defer db.Close()

	body, _ := json.Marshal(loginRequest{ModeratorID: "100500", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewReader(body))
	rec := srv.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_UnknownModerator(t *testing.T) {
	srv, _, db := newTestServer(t)
	defer db.Close()

	body, _ := json.Marshal(loginRequest{ModeratorID: "666", Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewReader(body))
	rec := srv.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminEndpoints_RequireToken(t *testing.T) {
	srv, _, db := newTestServer(t)
	defer db.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
	rec := srv.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ==========================
// Admin API
// ==========================

func TestListSubmissions_DefaultsToPending(t *testing.T) {
	srv, mock, db := newTestServer(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE status = \$1`).
		WithArgs("pending_review").
		WillReturnRows(submissionRowJSON("sub-1", domain.StatusPendingReview, 1))

	req := httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+srv.authedToken(t))
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Submissions []*domain.Submission `json:"submissions"`
		Count       int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "sub-1", resp.Submissions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_HappyPath(t *testing.T) {
	srv, mock, db := newTestServer(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE id`).
		WillReturnRows(submissionRowJSON("sub-1", domain.StatusPendingReview, 2))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE submissions SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO submission_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body, _ := json.Marshal(actionRequest{Version: 2})
	req := httptest.NewRequest(http.MethodPost, "/api/submissions/sub-1/approve", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+srv.authedToken(t))
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var sub domain.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, domain.StatusApproved, sub.Status)
	assert.Equal(t, int64(3), sub.Version)
	assert.Equal(t, "100500", sub.ModeratorRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_StaleVersionIs409(t *testing.T) {
	srv, mock, db := newTestServer(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE id`).
		WillReturnRows(submissionRowJSON("sub-1", domain.StatusPendingReview, 5))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE submissions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	body, _ := json.Marshal(actionRequest{Version: 5})
	req := httptest.NewRequest(http.MethodPost, "/api/submissions/sub-1/approve", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+srv.authedToken(t))
	rec := srv.do(req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "STALE_VERSION")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReject_MissingReasonIs400(t *testing.T) {
	srv, mock, db := newTestServer(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE id`).
		WillReturnRows(submissionRowJSON("sub-1", domain.StatusPendingReview, 2))

	body, _ := json.Marshal(actionRequest{Version: 2})
	req := httptest.NewRequest(http.MethodPost, "/api/submissions/sub-1/reject", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+srv.authedToken(t))
	rec := srv.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Public surface
// ==========================

func TestMapFeed_Public(t *testing.T) {
	srv, mock, db := newTestServer(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE status = \$1`).
		WithArgs("published").
		WillReturnRows(submissionRowJSON("sub-1", domain.StatusPublished, 4))

	req := httptest.NewRequest(http.MethodGet, "/api/map", nil)
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Listings []*projector.MapRecord `json:"listings"`
		Count    int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "sub-1", resp.Listings[0].ID)
	// internal references never leave through the public surface
	assert.NotContains(t, rec.Body.String(), "owner_ref")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImageProxy(t *testing.T) {
	srv, _, db := newTestServer(t)
	defer db.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/image/file-123", nil)
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	srv, _, db := newTestServer(t)
	defer db.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := srv.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
