package quote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/quote-api/internal/model"
	quoteService "github.com/jwalitptl/quote-api/internal/service/quote"
	apperrors "github.com/jwalitptl/quote-api/pkg/errors"
)

type fakeService struct {
	submitted  *model.QuoteSubmission
	submitErr  error
	forwarded  *model.ForwardRequest
	forwardErr error
	quote      *model.Quote
	token      string
}

func (f *fakeService) Submit(_ context.Context, s *model.QuoteSubmission) (*quoteService.SubmitResult, error) {
	f.submitted = s
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &quoteService.SubmitResult{
		QuoteID:      uuid.MustParse("6f1c2a5e-8d7b-4a59-9f0e-1c2d3e4f5a6b"),
		PublicToken:  "public-token",
		FailedImages: nil,
	}, nil
}

func (f *fakeService) Forward(_ context.Context, req *model.ForwardRequest) error {
	f.forwarded = req
	return f.forwardErr
}

func (f *fakeService) GetPublic(_ context.Context, id uuid.UUID, token string) (*model.Quote, error) {
	if f.quote == nil || f.quote.ID != id || token != f.token {
		return nil, apperrors.NotFound("quote", nil)
	}
	return f.quote, nil
}

func setupRouter(svc quoteService.QuoteServicer, intake ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), intake, nil)
	return r
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestSubmitQuote(t *testing.T) {
	svc := &fakeService{}
	r := setupRouter(svc)

	w, body := do(r, http.MethodPost, "/api/v1/quotes", `{
		"email": "ada@example.com",
		"name": "Ada",
		"productName": "Garden Bench",
		"images": [{"publicId": "quotes/a", "secureUrl": "https://media.example.com/a.jpg", "width": 640}]
	}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "6f1c2a5e-8d7b-4a59-9f0e-1c2d3e4f5a6b", body["quoteId"])
	assert.Equal(t, "public-token", body["publicToken"])
	assert.NotContains(t, body, "failedImages")

	require.NotNil(t, svc.submitted)
	assert.Equal(t, "Garden Bench", svc.submitted.ProductName)
	require.Len(t, svc.submitted.Images, 1)
	assert.Equal(t, 640, *svc.submitted.Images[0].Width)
}

func TestSubmitQuoteValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing email", `{"name": "Ada"}`, "email is required"},
		{"empty email", `{"email": ""}`, "email is required"},
		{"malformed json", `{"email": `, "invalid request body"},
		{"image without url", `{"email": "a@example.com", "images": [{"publicId": "x"}]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			w, body := do(setupRouter(svc), http.MethodPost, "/api/v1/quotes", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, body["success"])
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			}
			assert.Nil(t, svc.submitted)
		})
	}
}

func TestSubmitQuoteServiceErrors(t *testing.T) {
	svc := &fakeService{submitErr: apperrors.BadRequest("email is required", nil)}
	w, body := do(setupRouter(svc), http.MethodPost, "/api/v1/quotes", `{"email": "   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email is required", body["message"])

	svc = &fakeService{submitErr: apperrors.Internal(errors.New("db down"))}
	w, body = do(setupRouter(svc), http.MethodPost, "/api/v1/quotes", `{"email": "ada@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "internal server error", body["message"])
}

func TestSubmitQuoteRunsIntakeMiddleware(t *testing.T) {
	blocked := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false})
	}
	svc := &fakeService{quote: &model.Quote{Base: model.Base{ID: uuid.New()}}, token: "t"}
	r := setupRouter(svc, blocked)

	w, _ := do(r, http.MethodPost, "/api/v1/quotes", `{"email": "ada@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w, _ = do(r, http.MethodGet, "/api/v1/quotes/"+svc.quote.ID.String()+"?token=t", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForwardQuote(t *testing.T) {
	svc := &fakeService{}
	r := setupRouter(svc)
	payload := `{"quoteId": "6f1c2a5e-8d7b-4a59-9f0e-1c2d3e4f5a6b", "email": "ada@example.com", "createdAt": "2025-03-01T12:00:00Z"}`

	w, body := do(r, http.MethodPost, "/api/v1/quotes/forward", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "error")
	require.NotNil(t, svc.forwarded)
	assert.Equal(t, "ada@example.com", svc.forwarded.Email)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), svc.forwarded.CreatedAt.UTC())

	svc.forwardErr = apperrors.Unavailable("failed to forward quote", errors.New("downstream responded with status 503"))
	w, body = do(r, http.MethodPost, "/api/v1/quotes/forward", payload)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "downstream responded with status 503", body["error"])

	w, body = do(r, http.MethodPost, "/api/v1/quotes/forward", `{"quoteId": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email is required", body["error"])
}

func TestGetQuote(t *testing.T) {
	width := 640
	q := &model.Quote{
		Base:        model.Base{ID: uuid.New(), CreatedAt: time.Now().UTC()},
		Email:       "ada@example.com",
		ProductName: "Garden Bench",
		Status:      model.QuoteStatusForwarded,
		Images:      []*model.QuoteImage{{PublicID: "quotes/a", SecureURL: "https://media.example.com/a.jpg", Width: &width}},
	}
	q.PublicTokenHash = "never-exposed"
	svc := &fakeService{quote: q, token: "tok"}
	r := setupRouter(svc)

	w, body := do(r, http.MethodGet, "/api/v1/quotes/"+q.ID.String()+"?token=tok", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "Garden Bench", data["productName"])
	assert.Equal(t, "FORWARDED", data["status"])
	assert.Len(t, data["images"], 1)
	assert.NotContains(t, w.Body.String(), "never-exposed")

	w, body = do(r, http.MethodGet, "/api/v1/quotes/"+q.ID.String()+"?token=bad", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = do(r, http.MethodGet, "/api/v1/quotes/not-a-uuid?token=tok", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
