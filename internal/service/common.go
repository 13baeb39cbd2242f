package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/lifecycle"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// currentUser returns the authenticated user or ErrUserContextRequired
func currentUser(ctx context.Context) (*auth.UserContext, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	return userCtx, nil
}

func currentActor(ctx context.Context) (lifecycle.Actor, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return lifecycle.Actor{}, err
	}
	return userCtx.Actor(), nil
}

// notFound maps gorm.ErrRecordNotFound to the given sentinel
func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func clampPage(page, pageSize int) (int, int) {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return page, pageSize
}

func paginated(data interface{}, total int64, page, pageSize int) *domain.PaginatedResponse {
	return &domain.PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

func normalizeCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) != 3 {
		return "", domain.NewValidationError("currency", "must be a 3-letter ISO-4217 code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", domain.NewValidationError("currency", "must be a 3-letter ISO-4217 code")
		}
	}
	return c, nil
}

// side groups roles into the two parties of a job; inspectors work for providers
func side(r domain.Role) domain.Role {
	if r == domain.RoleInspector {
		return domain.RoleProvider
	}
	return r
}

func utcNow() time.Time {
	return time.Now().UTC()
}
