package projector

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/store"
)

var submissionCols = []string{
	"id", "kind", "owner_ref", "payload", "status", "moderator_ref",
	"rejection_reason", "published_ref", "version", "created_at", "updated_at",
}

func publishedListing(id string, lat, lon float64) *domain.Submission {
	now := time.Now().UTC()
	return &domain.Submission{
		ID:       id,
		Kind:     domain.KindListing,
		OwnerRef: "owner-1",
		Payload: domain.Payload{
			Description: "Sunny two-room flat",
			Address:     "вул. Грецька 12",
			Latitude:    lat,
			Longitude:   lon,
			Price:       8000,
			RentTerm:    domain.RentLongTerm,
			Contact:     "+380501234567",
		},
		Status:       domain.StatusPublished,
		PublishedRef: "42",
		Version:      4,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func expectPublishedQuery(mock sqlmock.Sqlmock, subs ...*domain.Submission) {
	rows := sqlmock.NewRows(submissionCols)
	for _, sub := range subs {
		payloadJSON, _ := json.Marshal(sub.Payload)
		rows.AddRow(sub.ID, string(sub.Kind), sub.OwnerRef, payloadJSON, string(sub.Status),
			sub.ModeratorRef, sub.RejectionReason, sub.PublishedRef,
			sub.Version, sub.CreatedAt, sub.UpdatedAt)
	}
	mock.ExpectQuery(`SELECT (.+) FROM submissions WHERE status = \$1`).
		WithArgs("published").
		WillReturnRows(rows)
}

func newTestProjector(t *testing.T) (*Projector, sqlmock.Sqlmock, *miniredis.Miniredis, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	log := logger.NewTestLogger(t)
	st := store.New(db, log)
	return NewProjector(st, cache, nil, log), mock, mr, db
}

// ==========================
// Map feed
// ==========================

func TestFeed_EqualsPublishedSet(t *testing.T) {
	proj, mock, _, db := newTestProjector(t)
	defer db.Close()

	withCoords := publishedListing("sub-1", 46.84, 35.36)
	noCoords := publishedListing("sub-2", 0, 0)
	request := publishedListing("sub-3", 46.85, 35.37)
	request.Kind = domain.KindRequest

	expectPublishedQuery(mock, withCoords, noCoords, request)

	records, err := proj.Feed(context.Background())
	require.NoError(t, err)

	// only mappable listings: requests and coordinate-less rows are
	// channel-only
	require.Len(t, records, 1)
	assert.Equal(t, "sub-1", records[0].ID)
	assert.Equal(t, 46.84, records[0].Latitude)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeed_ServedFromCacheSecondTime(t *testing.T) {
	proj, mock, _, db := newTestProjector(t)
	defer db.Close()

	expectPublishedQuery(mock, publishedListing("sub-1", 46.84, 35.36))

	_, err := proj.Feed(context.Background())
	require.NoError(t, err)

	// second call hits the cache; no further store query expected
	records, err := proj.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleEvent_PublishInvalidatesCache(t *testing.T) {
	proj, mock, mr, db := newTestProjector(t)
	defer db.Close()

	expectPublishedQuery(mock, publishedListing("sub-1", 46.84, 35.36))
	_, err := proj.Feed(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists(feedCacheKey))

	sub := publishedListing("sub-2", 46.85, 35.37)
	proj.HandleEvent(context.Background(), &domain.Event{
		SubmissionID: sub.ID,
		OldStatus:    domain.StatusApproved,
		NewStatus:    domain.StatusPublished,
	}, sub)

	assert.False(t, mr.Exists(feedCacheKey))
}

func TestHandleEvent_UnpublishInvalidatesCache(t *testing.T) {
	proj, mock, mr, db := newTestProjector(t)
	defer db.Close()

	expectPublishedQuery(mock, publishedListing("sub-1", 46.84, 35.36))
	_, err := proj.Feed(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists(feedCacheKey))

	sub := publishedListing("sub-1", 46.84, 35.36)
	sub.Status = domain.StatusWithdrawn
	sub.PublishedRef = ""
	proj.HandleEvent(context.Background(), &domain.Event{
		SubmissionID: sub.ID,
		OldStatus:    domain.StatusPublished,
		NewStatus:    domain.StatusWithdrawn,
	}, sub)

	assert.False(t, mr.Exists(feedCacheKey))
}

func TestRebuild_WarmsCache(t *testing.T) {
	proj, mock, mr, db := newTestProjector(t)
	defer db.Close()

	expectPublishedQuery(mock, publishedListing("sub-1", 46.84, 35.36))

	require.NoError(t, proj.Rebuild(context.Background()))
	assert.True(t, mr.Exists(feedCacheKey))

	// feed now comes straight from the cache
	records, err := proj.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Channel publisher
// ==========================

type fakeSender struct {
	messages    []string
	mediaGroups [][]string
	photos      []string
	deleted     []int64
	nextID      int64
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, text string, opts *telegram.SendOptions) (int64, error) {
	f.messages = append(f.messages, text)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSender) SendPhoto(ctx context.Context, chatID, fileID, caption string) (int64, error) {
	f.photos = append(f.photos, fileID)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSender) SendMediaGroup(ctx context.Context, chatID string, fileIDs []string, caption string) (int64, error) {
	f.mediaGroups = append(f.mediaGroups, fileIDs)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSender) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, nil
}

func TestChannelPublisher_TextOnly(t *testing.T) {
	sender := &fakeSender{}
	pub := NewChannelPublisher(sender, "@channel", logger.NewTestLogger(t))

	sub := publishedListing("sub-1", 46.84, 35.36)
	ref, err := pub.Publish(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "1", ref)
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "Sunny two-room flat")
}

func TestChannelPublisher_MediaGroupForMultiplePhotos(t *testing.T) {
	sender := &fakeSender{}
	pub := NewChannelPublisher(sender, "@channel", logger.NewTestLogger(t))

	sub := publishedListing("sub-1", 46.84, 35.36)
	sub.Payload.PhotoRefs = []string{"file-a", "file-b"}

	_, err := pub.Publish(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, sender.mediaGroups, 1)
	assert.Equal(t, []string{"file-a", "file-b"}, sender.mediaGroups[0])
}

func TestChannelPublisher_Unpublish(t *testing.T) {
	sender := &fakeSender{}
	pub := NewChannelPublisher(sender, "@channel", logger.NewTestLogger(t))

	sub := publishedListing("sub-1", 46.84, 35.36)
	sub.PublishedRef = "77"
	require.NoError(t, pub.Unpublish(context.Background(), sub))
	assert.Equal(t, []int64{77}, sender.deleted)
}

func TestFormatAnnouncement_EscapesHTML(t *testing.T) {
	sub := publishedListing("sub-1", 46.84, 35.36)
	sub.Payload.Description = "flat <b>great</b> & cheap"

	text := FormatAnnouncement(sub)
	assert.Contains(t, text, "&lt;b&gt;great&lt;/b&gt; &amp; cheap")
	assert.Contains(t, text, "8000 грн/мес")
	assert.Contains(t, text, "вул. Грецька 12")
}

func TestFormatAnnouncement_RequestHeader(t *testing.T) {
	sub := publishedListing("sub-1", 0, 0)
	sub.Kind = domain.KindRequest
	sub.Payload.Price = 0

	text := FormatAnnouncement(sub)
	assert.Contains(t, text, "Ищу жильё")
	assert.NotContains(t, text, "грн")
}
