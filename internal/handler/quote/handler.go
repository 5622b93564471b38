package quote

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jwalitptl/quote-api/internal/model"
	quoteService "github.com/jwalitptl/quote-api/internal/service/quote"
	apperrors "github.com/jwalitptl/quote-api/pkg/errors"
	"github.com/jwalitptl/quote-api/pkg/httputil"
)

type Handler struct {
	service quoteService.QuoteServicer
}

func NewHandler(service quoteService.QuoteServicer) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the public quote endpoints. intake runs before the
// submit handler only, forward before the retry-forwarding handler only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, intake []gin.HandlerFunc, forward []gin.HandlerFunc) {
	quotes := r.Group("/quotes")
	{
		quotes.POST("", chain(intake, h.SubmitQuote)...)
		quotes.POST("/forward", chain(forward, h.ForwardQuote)...)
		quotes.GET("/:id", h.GetQuote)
	}
}

func chain(middleware []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(middleware)+1)
	out = append(out, middleware...)
	return append(out, h)
}

type submitResponse struct {
	Success      bool     `json:"success"`
	QuoteID      string   `json:"quoteId"`
	PublicToken  string   `json:"publicToken"`
	FailedImages []string `json:"failedImages,omitempty"`
}

type imageResponse struct {
	PublicID     string `json:"publicId"`
	SecureURL    string `json:"secureUrl"`
	Width        *int   `json:"width,omitempty"`
	Height       *int   `json:"height,omitempty"`
	Format       string `json:"format,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
}

type quoteResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Zip         string          `json:"zip"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	SKU         string          `json:"sku"`
	Material    string          `json:"material"`
	Dimensions  string          `json:"dimensions"`
	Notes       string          `json:"notes"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	Images      []imageResponse `json:"images"`
}

func newQuoteResponse(q *model.Quote) quoteResponse {
	resp := quoteResponse{
		ID:          q.ID.String(),
		Name:        q.Name,
		Email:       q.Email,
		Phone:       q.Phone,
		Zip:         q.Zip,
		ProductID:   q.ProductID,
		ProductName: q.ProductName,
		SKU:         q.SKU,
		Material:    q.Material,
		Dimensions:  q.Dimensions,
		Notes:       q.Notes,
		Status:      string(q.Status),
		CreatedAt:   q.CreatedAt,
		Images:      make([]imageResponse, 0, len(q.Images)),
	}
	for _, img := range q.Images {
		resp.Images = append(resp.Images, imageResponse{
			PublicID:     img.PublicID,
			SecureURL:    img.SecureURL,
			Width:        img.Width,
			Height:       img.Height,
			Format:       img.Format,
			OriginalName: img.OriginalName,
		})
	}
	return resp
}

func (h *Handler) SubmitQuote(c *gin.Context) {
	var req model.QuoteSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, bindError(err))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, submitResponse{
		Success:      true,
		QuoteID:      result.QuoteID.String(),
		PublicToken:  result.PublicToken,
		FailedImages: result.FailedImages,
	})
}

// ForwardQuote is the retry path: it forwards synchronously and reports the
// downstream outcome as {success, error}.
func (h *Handler) ForwardQuote(c *gin.Context) {
	var req model.ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{Success: false, Error: bindError(err).Message})
		return
	}

	if err := h.service.Forward(c.Request.Context(), &req); err != nil {
		status := http.StatusInternalServerError
		message := "internal server error"
		if appErr, ok := apperrors.As(err); ok {
			status = appErr.StatusCode()
			message = appErr.Message
			if appErr.Err != nil && appErr.Code == apperrors.ErrUnavailable {
				message = appErr.Err.Error()
			}
		}
		c.JSON(status, httputil.Response{Success: false, Error: message})
		return
	}

	c.JSON(http.StatusOK, httputil.Response{Success: true})
}

func (h *Handler) GetQuote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NotFound("quote", err))
		return
	}

	q, err := h.service.GetPublic(c.Request.Context(), id, c.Query("token"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithData(c, newQuoteResponse(q))
}

func bindError(err error) *apperrors.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.BadRequest(quoteService.ValidationMessage(verrs[0]), err)
	}
	return apperrors.BadRequest("invalid request body", err)
}
