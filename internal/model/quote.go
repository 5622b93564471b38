package model

import (
	"time"

	"github.com/google/uuid"
)

type QuoteStatus string

const (
	QuoteStatusNew       QuoteStatus = "NEW"
	QuoteStatusForwarded QuoteStatus = "FORWARDED"
)

// Quote is the durable record of a quote request. Once forwarded only the
// status and timestamp columns change.
type Quote struct {
	Base
	Name            string      `db:"name" json:"name"`
	Email           string      `db:"email" json:"email"`
	Phone           string      `db:"phone" json:"phone"`
	Zip             string      `db:"zip" json:"zip"`
	ProductID       string      `db:"product_id" json:"productId"`
	ProductName     string      `db:"product_name" json:"productName"`
	SKU             string      `db:"sku" json:"sku"`
	Material        string      `db:"material" json:"material"`
	Dimensions      string      `db:"dimensions" json:"dimensions"`
	Notes           string      `db:"notes" json:"notes"`
	Status          QuoteStatus `db:"status" json:"status"`
	PublicTokenHash string      `db:"public_token_hash" json:"-"`
	ForwardedAt     *time.Time  `db:"forwarded_at" json:"forwardedAt,omitempty"`

	Images []*QuoteImage `db:"-" json:"images"`
}

type QuoteImage struct {
	ID           uuid.UUID `db:"id" json:"id"`
	QuoteID      uuid.UUID `db:"quote_id" json:"quoteId"`
	PublicID     string    `db:"public_id" json:"publicId"`
	SecureURL    string    `db:"secure_url" json:"secureUrl"`
	Width        *int      `db:"width" json:"width,omitempty"`
	Height       *int      `db:"height" json:"height,omitempty"`
	Bytes        *int64    `db:"bytes" json:"bytes,omitempty"`
	Format       string    `db:"format" json:"format,omitempty"`
	OriginalName string    `db:"original_name" json:"originalName,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// ImageInput is the metadata of an image the submitter already uploaded to
// the media host.
type ImageInput struct {
	PublicID     string `json:"publicId" binding:"required"`
	SecureURL    string `json:"secureUrl" binding:"required,url"`
	Width        *int   `json:"width,omitempty"`
	Height       *int   `json:"height,omitempty"`
	Bytes        *int64 `json:"bytes,omitempty"`
	Format       string `json:"format,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
}

// QuoteSubmission is the body accepted by the intake endpoint.
type QuoteSubmission struct {
	Email       string       `json:"email" binding:"required"`
	Name        string       `json:"name,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Zip         string       `json:"zip,omitempty"`
	ProductID   string       `json:"productId,omitempty"`
	ProductName string       `json:"productName,omitempty"`
	SKU         string       `json:"sku,omitempty"`
	Material    string       `json:"material,omitempty"`
	Dimensions  string       `json:"dimensions,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Images      []ImageInput `json:"images,omitempty" binding:"omitempty,dive"`
}

// NewQuote builds an unsaved record from a submission.
func NewQuote(s *QuoteSubmission) *Quote {
	return &Quote{
		Name:        s.Name,
		Email:       s.Email,
		Phone:       s.Phone,
		Zip:         s.Zip,
		ProductID:   s.ProductID,
		ProductName: s.ProductName,
		SKU:         s.SKU,
		Material:    s.Material,
		Dimensions:  s.Dimensions,
		Notes:       s.Notes,
		Status:      QuoteStatusNew,
	}
}

// Submission rebuilds the submission shape of a stored quote.
func (q *Quote) Submission() QuoteSubmission {
	s := QuoteSubmission{
		Email:       q.Email,
		Name:        q.Name,
		Phone:       q.Phone,
		Zip:         q.Zip,
		ProductID:   q.ProductID,
		ProductName: q.ProductName,
		SKU:         q.SKU,
		Material:    q.Material,
		Dimensions:  q.Dimensions,
		Notes:       q.Notes,
	}
	for _, img := range q.Images {
		s.Images = append(s.Images, ImageInput{
			PublicID:     img.PublicID,
			SecureURL:    img.SecureURL,
			Width:        img.Width,
			Height:       img.Height,
			Bytes:        img.Bytes,
			Format:       img.Format,
			OriginalName: img.OriginalName,
		})
	}
	return s
}
