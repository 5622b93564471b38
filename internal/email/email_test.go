package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/quote-api/internal/config"
	"github.com/jwalitptl/quote-api/internal/model"
)

type sentMessage struct {
	to, subject, content string
}

type fakeService struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (f *fakeService) SendCustom(_ context.Context, to, subject, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to, subject, content})
	return nil
}

func TestFallbackService(t *testing.T) {
	ctx := context.Background()

	t.Run("primary succeeds", func(t *testing.T) {
		primary, secondary := &fakeService{}, &fakeService{}
		require.NoError(t, NewFallbackService(primary, secondary).SendCustom(ctx, "a@example.com", "s", "c"))
		assert.Len(t, primary.sent, 1)
		assert.Empty(t, secondary.sent)
	})

	t.Run("falls back", func(t *testing.T) {
		primary, secondary := &fakeService{err: errors.New("provider down")}, &fakeService{}
		require.NoError(t, NewFallbackService(primary, nil, secondary).SendCustom(ctx, "a@example.com", "s", "c"))
		assert.Len(t, secondary.sent, 1)
	})

	t.Run("all fail", func(t *testing.T) {
		primary, secondary := &fakeService{err: errors.New("provider down")}, &fakeService{err: errors.New("relay down")}
		err := NewFallbackService(primary, secondary).SendCustom(ctx, "a@example.com", "s", "c")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider down")
		assert.Contains(t, err.Error(), "relay down")
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.Error(t, NewFallbackService().SendCustom(ctx, "a@example.com", "s", "c"))
	})
}

func TestProviderService(t *testing.T) {
	var got providerMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewProviderService(config.EmailProviderConfig{URL: srv.URL, APIKey: "key"}, "quotes@example.com")
	require.NoError(t, p.SendCustom(context.Background(), "ada@example.com", "Hello", "Body"))

	assert.Equal(t, "Bearer key", auth)
	assert.Equal(t, "quotes@example.com", got.From)
	assert.Equal(t, []string{"ada@example.com"}, got.To)
	assert.Equal(t, "Hello", got.Subject)
	assert.Equal(t, "Body", got.Text)
}

func TestProviderServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProviderService(config.EmailProviderConfig{URL: srv.URL}, "quotes@example.com")
	assert.Error(t, p.SendCustom(context.Background(), "ada@example.com", "Hello", "Body"))
}

type fakeDialer struct {
	messages []*gomail.Message
	err      error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.messages = append(d.messages, m...)
	return d.err
}

func TestSMTPService(t *testing.T) {
	d := &fakeDialer{}
	s := NewSMTPService(config.SMTPConfig{Host: "localhost", Port: 25}, "quotes@example.com")
	s.dialer = d

	require.NoError(t, s.SendCustom(context.Background(), "ada@example.com", "Hello", "Body"))
	require.Len(t, d.messages, 1)
	assert.Equal(t, []string{"quotes@example.com"}, d.messages[0].GetHeader("From"))
	assert.Equal(t, []string{"ada@example.com"}, d.messages[0].GetHeader("To"))
	assert.Equal(t, []string{"Hello"}, d.messages[0].GetHeader("Subject"))

	d.err = errors.New("relay refused")
	assert.Error(t, s.SendCustom(context.Background(), "ada@example.com", "Hello", "Body"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SendCustom(ctx, "ada@example.com", "Hello", "Body"), context.Canceled)
}

func testQuote() *model.Quote {
	q := model.NewQuote(&model.QuoteSubmission{
		Email:       "ada@example.com",
		Name:        "Ada",
		ProductName: "Garden Bench",
		Material:    "Oak",
	})
	q.ID = uuid.MustParse("6f1c2a5e-8d7b-4a59-9f0e-1c2d3e4f5a6b")
	q.Images = []*model.QuoteImage{{SecureURL: "https://media.example.com/a.jpg"}}
	return q
}

func TestQuoteNotifier(t *testing.T) {
	svc := &fakeService{}
	n := NewQuoteNotifier(svc, NotifierConfig{
		AdminRecipients: []string{"sales@example.com", "ops@example.com"},
		CustomerConfirm: true,
		PublicBaseURL:   "https://shop.example.com/quotes/",
	})

	require.NoError(t, n.NotifyQuoteSubmitted(context.Background(), testQuote(), "tok+en"))
	require.Len(t, svc.sent, 3)

	assert.Equal(t, "sales@example.com", svc.sent[0].to)
	assert.Equal(t, "New quote request from Ada", svc.sent[0].subject)
	assert.Contains(t, svc.sent[0].content, "Material: Oak")
	assert.Contains(t, svc.sent[0].content, "https://media.example.com/a.jpg")
	assert.NotContains(t, svc.sent[0].content, "Phone:")

	assert.Equal(t, "ada@example.com", svc.sent[2].to)
	assert.Contains(t, svc.sent[2].content,
		"https://shop.example.com/quotes/6f1c2a5e-8d7b-4a59-9f0e-1c2d3e4f5a6b?token=tok%2Ben")
}

func TestQuoteNotifierReportsFailures(t *testing.T) {
	svc := &fakeService{err: errors.New("down")}
	n := NewQuoteNotifier(svc, NotifierConfig{AdminRecipients: []string{"sales@example.com"}})

	err := n.NotifyQuoteSubmitted(context.Background(), testQuote(), "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sales@example.com")
}
