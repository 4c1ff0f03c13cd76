package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/twbeatles/intranet-messenger/internal/httputil"
	"github.com/twbeatles/intranet-messenger/internal/ratelimit"
	"github.com/twbeatles/intranet-messenger/internal/search"
	"github.com/twbeatles/intranet-messenger/internal/session"
)

// SearchHandler serves plain and advanced message search, scoped to the rooms the caller belongs to.
type SearchHandler struct {
	search  search.Repository
	limiter *ratelimit.Limiter
	perMin  int
	log     zerolog.Logger
}

// NewSearchHandler creates a new search handler. perMinute bounds the advanced-search endpoint specifically, per
// §4.E's per-source rate limits; the plain search endpoint is not rate limited.
func NewSearchHandler(repo search.Repository, limiter *ratelimit.Limiter, perMinute int, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{search: repo, limiter: limiter, perMin: perMinute, log: logger}
}

func pageResponse(page search.Page) fiber.Map {
	return fiber.Map{
		"results":  page.Results,
		"total":    page.Total,
		"offset":   page.Offset,
		"limit":    page.Limit,
		"has_more": page.HasMore(),
	}
}

// Search handles GET /api/search?q=&offset=&limit=.
func (h *SearchHandler) Search(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	offset, ok := queryInt(c, "offset", 0, httputil.CodeInvalidOffset, "Invalid offset")
	if !ok {
		return nil
	}
	limit, ok := queryInt(c, "limit", search.DefaultLimit, httputil.CodeInvalidLimit, "Invalid limit")
	if !ok {
		return nil
	}

	page, err := h.search.Search(c.Context(), userID, c.Query("q"), offset, limit)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Raw(c, fiber.StatusOK, pageResponse(page))
}

type advancedSearchRequest struct {
	Query    string     `json:"query"`
	RoomID   *uuid.UUID `json:"room_id"`
	SenderID *uuid.UUID `json:"sender_id"`
	DateFrom *time.Time `json:"date_from"`
	DateTo   *time.Time `json:"date_to"`
	FileOnly bool       `json:"file_only"`
	Offset   int        `json:"offset"`
	Limit    int        `json:"limit"`
}

// Advanced handles POST /api/search/advanced, rate-limited per source address since a filtered full-text query is
// more expensive than the plain search path.
func (h *SearchHandler) Advanced(c fiber.Ctx) error {
	userID := session.UserIDFromContext(c)

	allowed, err := h.limiter.Allow(c.Context(), "advanced_search:"+c.IP(), h.perMin, time.Minute)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to check advanced search rate limit")
	} else if !allowed {
		return httputil.Fail(c, fiber.StatusTooManyRequests, httputil.CodeRateLimited, "Too many search requests")
	}

	var body advancedSearchRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeInvalidJSON, "Invalid request body")
	}

	filters := search.Filters{
		Query:    body.Query,
		RoomID:   body.RoomID,
		SenderID: body.SenderID,
		DateFrom: body.DateFrom,
		DateTo:   body.DateTo,
		FileOnly: body.FileOnly,
	}

	page, err := h.search.AdvancedSearch(c.Context(), userID, filters, body.Offset, body.Limit)
	if err != nil {
		return mapDomainError(c, err)
	}
	return httputil.Raw(c, fiber.StatusOK, pageResponse(page))
}
