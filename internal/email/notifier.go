package email

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jwalitptl/quote-api/internal/model"
)

// QuoteNotifier tells the sales team about new quotes and, optionally, sends
// the customer a confirmation with their tracking link.
type QuoteNotifier struct {
	svc             Service
	adminRecipients []string
	customerConfirm bool
	publicBaseURL   string
}

type NotifierConfig struct {
	AdminRecipients []string
	CustomerConfirm bool
	// PublicBaseURL is where the public quote page lives; the quote id and
	// token are appended to it.
	PublicBaseURL string
}

func NewQuoteNotifier(svc Service, cfg NotifierConfig) *QuoteNotifier {
	return &QuoteNotifier{
		svc:             svc,
		adminRecipients: cfg.AdminRecipients,
		customerConfirm: cfg.CustomerConfirm,
		publicBaseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

// NotifyQuoteSubmitted sends every message and returns the joined failures.
func (n *QuoteNotifier) NotifyQuoteSubmitted(ctx context.Context, quote *model.Quote, publicToken string) error {
	var errs []error

	subject := fmt.Sprintf("New quote request from %s", displayName(quote))
	body := adminBody(quote)
	for _, to := range n.adminRecipients {
		if err := n.svc.SendCustom(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("admin notification to %s: %w", to, err))
		}
	}

	if n.customerConfirm && quote.Email != "" {
		if err := n.svc.SendCustom(ctx, quote.Email, "We received your quote request", n.customerBody(quote, publicToken)); err != nil {
			errs = append(errs, fmt.Errorf("customer confirmation: %w", err))
		}
	}

	return errors.Join(errs...)
}

// TrackingURL is the public link for a quote, or "" without a base URL.
func (n *QuoteNotifier) TrackingURL(quote *model.Quote, publicToken string) string {
	if n.publicBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s?token=%s", n.publicBaseURL, quote.ID, url.QueryEscape(publicToken))
}

func displayName(q *model.Quote) string {
	if q.Name != "" {
		return q.Name
	}
	return q.Email
}

func adminBody(q *model.Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quote %s\n\n", q.ID)
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Name", q.Name)
	line("Email", q.Email)
	line("Phone", q.Phone)
	line("Zip", q.Zip)
	line("Product", q.ProductName)
	line("Product ID", q.ProductID)
	line("SKU", q.SKU)
	line("Material", q.Material)
	line("Dimensions", q.Dimensions)
	line("Notes", q.Notes)
	if len(q.Images) > 0 {
		b.WriteString("\nImages:\n")
		for _, img := range q.Images {
			fmt.Fprintf(&b, "- %s\n", img.SecureURL)
		}
	}
	return b.String()
}

func (n *QuoteNotifier) customerBody(q *model.Quote, publicToken string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", displayName(q))
	b.WriteString("Thanks for your quote request. Our team will get back to you shortly.\n")
	if q.ProductName != "" {
		fmt.Fprintf(&b, "\nProduct: %s\n", q.ProductName)
	}
	if link := n.TrackingURL(q, publicToken); link != "" {
		fmt.Fprintf(&b, "\nYou can review your request at any time:\n%s\n", link)
	}
	return b.String()
}
