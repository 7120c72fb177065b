// Package projector maintains the read-side projections of published
// submissions: the public map feed, its Redis cache, and the optional
// Elasticsearch search index. Every projection is derivable from the
// store, so Rebuild can restore all of them from scratch.
package projector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/metrics"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/store"
)

// MapRecord is the public shape of one published listing as served to
// the map page. Owner and moderator references never leave the store.
type MapRecord struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Address     string   `json:"address,omitempty"`
	Latitude    float64  `json:"latitude,omitempty"`
	Longitude   float64  `json:"longitude,omitempty"`
	Price       int      `json:"price,omitempty"`
	RentTerm    string   `json:"rent_term,omitempty"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
	Contact     string   `json:"contact,omitempty"`
	PublishedAt string   `json:"published_at"`
}

const (
	feedCacheKey = "mapfeed:published"
	feedCacheTTL = 5 * time.Minute
)

// Projector reacts to committed lifecycle events and keeps the map
// feed cache and search index in step with the store.
type Projector struct {
	store  *store.SubmissionStore
	cache  *redis.Client
	index  *SearchIndex
	logger logger.Logger
}

// NewProjector builds the projector. index may be nil when search is
// disabled; the map feed still works from the store and cache alone.
func NewProjector(st *store.SubmissionStore, cache *redis.Client, index *SearchIndex, log logger.Logger) *Projector {
	return &Projector{
		store:  st,
		cache:  cache,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "projector"}),
	}
}

// HandleEvent updates the projections after a committed transition.
// Failures are logged, never returned: a lagging projection must not
// fail a lifecycle transition, and Rebuild closes any gap.
func (p *Projector) HandleEvent(ctx context.Context, event *domain.Event, sub *domain.Submission) {
	switch {
	case event.NewStatus == domain.StatusPublished:
		p.upsert(ctx, sub)
	case event.OldStatus == domain.StatusPublished && event.NewStatus != domain.StatusPublished:
		p.remove(ctx, sub.ID)
	case event.OldStatus == event.NewStatus && sub.Status == domain.StatusPublished:
		// payload edited while published is impossible by the state
		// machine, but a rebuild-triggering event costs nothing
		p.upsert(ctx, sub)
	}
}

func (p *Projector) upsert(ctx context.Context, sub *domain.Submission) {
	p.invalidateCache(ctx)
	if p.index != nil && sub.Kind == domain.KindListing {
		if err := p.index.Upsert(ctx, recordFromSubmission(sub)); err != nil {
			p.logger.Error("failed to index published listing", map[string]interface{}{
				"submissionId": sub.ID,
				"error":        err,
			})
		}
	}
}

func (p *Projector) remove(ctx context.Context, id string) {
	p.invalidateCache(ctx)
	if p.index != nil {
		if err := p.index.Delete(ctx, id); err != nil {
			p.logger.Error("failed to remove listing from index", map[string]interface{}{
				"submissionId": id,
				"error":        err,
			})
		}
	}
}

// Feed returns every published listing with coordinates, suitable for
// rendering as map pins. Served from the Redis cache when warm,
// rebuilt from the store otherwise.
func (p *Projector) Feed(ctx context.Context) ([]*MapRecord, error) {
	if p.cache != nil {
		raw, err := p.cache.Get(ctx, feedCacheKey).Bytes()
		if err == nil {
			var records []*MapRecord
			if jerr := json.Unmarshal(raw, &records); jerr == nil {
				return records, nil
			}
			p.logger.Warn("discarding corrupt feed cache", map[string]interface{}{"error": err})
		} else if err != redis.Nil {
			p.logger.Warn("feed cache read failed", map[string]interface{}{"error": err})
		}
	}

	records, err := p.buildFeed(ctx)
	if err != nil {
		return nil, err
	}
	p.cacheFeed(ctx, records)
	return records, nil
}

// Rebuild reconstructs every projection from the store: refreshes the
// feed cache and reindexes all published listings. Run at startup and
// on demand from the admin panel.
func (p *Projector) Rebuild(ctx context.Context) error {
	subs, err := p.store.Published(ctx)
	if err != nil {
		return err
	}

	records := make([]*MapRecord, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind != domain.KindListing || !sub.Payload.HasCoordinates() {
			continue
		}
		rec := recordFromSubmission(sub)
		records = append(records, rec)
		if p.index != nil {
			if err := p.index.Upsert(ctx, rec); err != nil {
				p.logger.Error("reindex failed for listing", map[string]interface{}{
					"submissionId": sub.ID,
					"error":        err,
				})
			}
		}
	}

	p.cacheFeed(ctx, records)
	metrics.PublishedListings.Set(float64(len(records)))

	p.logger.Info("projections rebuilt", map[string]interface{}{
		"published": len(subs),
		"mapped":    len(records),
	})
	return nil
}

func (p *Projector) buildFeed(ctx context.Context) ([]*MapRecord, error) {
	subs, err := p.store.Published(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*MapRecord, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind != domain.KindListing || !sub.Payload.HasCoordinates() {
			continue
		}
		records = append(records, recordFromSubmission(sub))
	}
	metrics.PublishedListings.Set(float64(len(records)))
	return records, nil
}

func (p *Projector) cacheFeed(ctx context.Context, records []*MapRecord) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, feedCacheKey, raw, feedCacheTTL).Err(); err != nil {
		p.logger.Warn("feed cache write failed", map[string]interface{}{"error": err})
	}
}

func (p *Projector) invalidateCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Del(ctx, feedCacheKey).Err(); err != nil {
		p.logger.Warn("feed cache invalidation failed", map[string]interface{}{"error": err})
	}
}

// Search proxies a full-text query to the index when one is wired.
func (p *Projector) Search(ctx context.Context, q SearchQuery) ([]*MapRecord, error) {
	if p.index == nil {
		return nil, stderrors.NewSearchIndexFailedError("search", errIndexDisabled)
	}
	return p.index.Search(ctx, q)
}

func recordFromSubmission(sub *domain.Submission) *MapRecord {
	return &MapRecord{
		ID:          sub.ID,
		Kind:        string(sub.Kind),
		Description: sub.Payload.Description,
		Address:     sub.Payload.Address,
		Latitude:    sub.Payload.Latitude,
		Longitude:   sub.Payload.Longitude,
		Price:       sub.Payload.Price,
		RentTerm:    string(sub.Payload.RentTerm),
		PhotoRefs:   sub.Payload.PhotoRefs,
		Contact:     sub.Payload.Contact,
		PublishedAt: sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type projectorErr string

func (e projectorErr) Error() string { return string(e) }

const errIndexDisabled = projectorErr("search index is not enabled")
