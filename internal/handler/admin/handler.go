package admin

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/quote-api/internal/fallback"
	"github.com/jwalitptl/quote-api/internal/model"
	apperrors "github.com/jwalitptl/quote-api/pkg/errors"
	"github.com/jwalitptl/quote-api/pkg/httputil"
)

// PendingQueue is the part of the fallback queue operators can inspect.
type PendingQueue interface {
	List(ctx context.Context) ([]*model.PendingQuote, error)
	ListDeadLettered(ctx context.Context) ([]*model.PendingQuote, error)
	Remove(ctx context.Context, correlationID string) (bool, error)
	MaxRetries() int
}

type RetryRunner interface {
	RunPass(ctx context.Context) (fallback.PassResult, error)
}

type Handler struct {
	queue  PendingQueue
	runner RetryRunner
}

// NewHandler builds the operator endpoints. runner may be nil, in which case
// manual retry passes are not offered.
func NewHandler(queue PendingQueue, runner RetryRunner) *Handler {
	return &Handler{queue: queue, runner: runner}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	quotes := r.Group("/admin/quotes")
	{
		quotes.GET("/pending", h.ListPending)
		quotes.GET("/dead-letters", h.ListDeadLetters)
		quotes.DELETE("/pending/:correlationId", h.RemovePending)
		if h.runner != nil {
			quotes.POST("/retry", h.RunRetryPass)
		}
	}
}

type pendingResponse struct {
	CorrelationID string     `json:"correlationId"`
	QuoteID       string     `json:"quoteId,omitempty"`
	Email         string     `json:"email"`
	ProductName   string     `json:"productName,omitempty"`
	RetryCount    int        `json:"retryCount"`
	LastRetryAt   *time.Time `json:"lastRetryTimestamp"`
	EnqueuedAt    time.Time  `json:"timestamp"`
	LastError     string     `json:"lastError,omitempty"`
	DeadLettered  bool       `json:"deadLettered"`
}

type listResponse struct {
	Entries    []pendingResponse `json:"entries"`
	Count      int               `json:"count"`
	MaxRetries int               `json:"maxRetries"`
}

func (h *Handler) newListResponse(entries []*model.PendingQuote) listResponse {
	maxRetries := h.queue.MaxRetries()
	resp := listResponse{
		Entries:    make([]pendingResponse, 0, len(entries)),
		Count:      len(entries),
		MaxRetries: maxRetries,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, pendingResponse{
			CorrelationID: e.CorrelationID,
			QuoteID:       e.QuoteID,
			Email:         e.Email,
			ProductName:   e.ProductName,
			RetryCount:    e.RetryCount,
			LastRetryAt:   e.LastRetryAt,
			EnqueuedAt:    e.EnqueuedAt,
			LastError:     e.LastError,
			DeadLettered:  e.DeadLettered(maxRetries),
		})
	}
	return resp
}

func (h *Handler) ListPending(c *gin.Context) {
	entries, err := h.queue.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithData(c, h.newListResponse(entries))
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	entries, err := h.queue.ListDeadLettered(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithData(c, h.newListResponse(entries))
}

// RemovePending is idempotent: removing an unknown id succeeds with
// removed=false.
func (h *Handler) RemovePending(c *gin.Context) {
	correlationID := c.Param("correlationId")
	removed, err := h.queue.Remove(c.Request.Context(), correlationID)
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithData(c, gin.H{
		"correlationId": correlationID,
		"removed":       removed,
	})
}

func (h *Handler) RunRetryPass(c *gin.Context) {
	result, err := h.runner.RunPass(c.Request.Context())
	if err != nil {
		if errors.Is(err, fallback.ErrPassInProgress) {
			httputil.RespondWithError(c, apperrors.Conflict("retry pass already running", err))
			return
		}
		_ = c.Error(err)
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithData(c, gin.H{
		"attempted":    result.Attempted,
		"delivered":    result.Delivered,
		"failed":       result.Failed,
		"skipped":      result.Skipped,
		"deadLettered": result.DeadLettered,
		"retryable":    result.Retryable,
	})
}
