package service

import (
	"errors"
	"fmt"

	"github.com/ndt-connect/marketplace-api/internal/domain"
)

// Service errors. The not-found sentinels wrap domain.ErrNotFound so
// handlers can map them without knowing each entity.
var (
	// ErrUserContextRequired is returned when no authenticated user is on the context
	ErrUserContextRequired = errors.New("user context required")

	ErrJobRequestNotFound   = fmt.Errorf("job request %w", domain.ErrNotFound)
	ErrQuotationNotFound    = fmt.Errorf("quotation %w", domain.ErrNotFound)
	ErrOfferingNotFound     = fmt.Errorf("service offering %w", domain.ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", domain.ErrNotFound)
	ErrDraftNotFound        = fmt.Errorf("negotiation draft %w", domain.ErrNotFound)

	// ErrNoPricingProvider is returned when an estimate is requested for a
	// job that names no provider to price against
	ErrNoPricingProvider = domain.NewValidationError("providerId", "a pricing provider is required to estimate")
)
