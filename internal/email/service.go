package email

import (
	"context"
	"errors"
	"fmt"
)

// Service sends one plain text message.
type Service interface {
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

// FallbackService tries each service in order and stops at the first success.
type FallbackService struct {
	services []Service
}

func NewFallbackService(services ...Service) *FallbackService {
	kept := make([]Service, 0, len(services))
	for _, s := range services {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FallbackService{services: kept}
}

func (f *FallbackService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if len(f.services) == 0 {
		return fmt.Errorf("no email service configured")
	}
	var errs []error
	for i, s := range f.services {
		if err := s.SendCustom(ctx, to, subject, content); err != nil {
			errs = append(errs, fmt.Errorf("email service %d: %w", i, err))
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}
