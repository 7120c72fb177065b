package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	stderrors "geneva-listings/internal/common/errors"
	"geneva-listings/internal/domain"
	"geneva-listings/internal/lifecycle"
	"geneva-listings/internal/projector"
)

type lifecycleAction string

const (
	lifecycleApprove   lifecycleAction = "approve"
	lifecycleReject    lifecycleAction = "reject"
	lifecyclePublish   lifecycleAction = "publish"
	lifecycleUnpublish lifecycleAction = "unpublish"
)

func (a lifecycleAction) domainAction() domain.Action {
	switch a {
	case lifecycleApprove:
		return domain.ActionApprove
	case lifecycleReject:
		return domain.ActionReject
	case lifecyclePublish:
		return domain.ActionPublish
	case lifecycleUnpublish:
		return domain.ActionUnpublish
	}
	return ""
}

type actionRequest struct {
	Version int64  `json:"version" binding:"required"`
	Reason  string `json:"reason,omitempty"`
}

// handleAction is the shared handler for the four moderator verbs.
// The version comes from the snapshot the panel rendered; a stale one
// surfaces as 409 and the panel re-fetches.
func (s *Server) handleAction(action lifecycleAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.abortWithError(c, stderrors.NewValidationError("version is required"))
			return
		}
		moderatorID := c.GetString("moderator_id")

		sub, err := s.engine.Apply(c.Request.Context(), c.Param("id"), req.Version,
			action.domainAction(), moderatorID, domain.RoleModerator,
			lifecycle.TransitionArgs{Reason: req.Reason})
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	status := domain.Status(c.DefaultQuery("status", string(domain.StatusPendingReview)))
	if !status.Valid() {
		s.abortWithError(c, stderrors.NewValidationError("unknown status: "+string(status)))
		return
	}

	var (
		subs []*domain.Submission
		err  error
	)
	if status == domain.StatusPendingReview {
		subs, err = s.store.PendingQueue(c.Request.Context())
	} else {
		subs, err = s.store.ByStatus(c.Request.Context(), status)
	}
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": subs, "count": len(subs)})
}

func (s *Server) handleGetSubmission(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := s.store.GetByID(ctx, c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	events, err := s.store.EventsBySubmission(ctx, sub.ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission": sub, "events": events})
}

type payloadRequest struct {
	Version int64          `json:"version" binding:"required"`
	Payload domain.Payload `json:"payload" binding:"required"`
}

func (s *Server) handleEditPayload(c *gin.Context) {
	var req payloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, stderrors.NewValidationError("version and payload are required"))
		return
	}
	moderatorID := c.GetString("moderator_id")

	sub, err := s.engine.UpdatePayload(c.Request.Context(), c.Param("id"), req.Version,
		req.Payload, moderatorID, domain.RoleModerator)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRebuild(c *gin.Context) {
	if err := s.projector.Rebuild(c.Request.Context()); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}

func (s *Server) handleMapFeed(c *gin.Context) {
	records, err := s.projector.Feed(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": records, "count": len(records)})
}

func (s *Server) handleMapSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		s.abortWithError(c, stderrors.NewValidationError("q is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	minPrice, _ := strconv.Atoi(c.Query("min_price"))
	maxPrice, _ := strconv.Atoi(c.Query("max_price"))

	records, err := s.projector.Search(c.Request.Context(), projector.SearchQuery{
		Text:     query,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Limit:    limit,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": records, "count": len(records)})
}

// handleImage proxies a Telegram photo so the map page never sees the
// bot token.
func (s *Server) handleImage(c *gin.Context) {
	fileID := c.Param("file_id")
	data, err := s.files.DownloadFile(c.Request.Context(), fileID)
	if err != nil {
		s.logger.Warn("image download failed", map[string]interface{}{"fileId": fileID, "error": err})
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "IMAGE_FETCH_FAILED", "message": "could not fetch image"}})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}
