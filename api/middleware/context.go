package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgAuth "github.com/angelmondragon/channelcore-backend/pkg/auth"
)

type contextKey string

const (
	ctxOperatorID contextKey = "operator_id"
	ctxRole       contextKey = "actor_role"
	ctxClaims     contextKey = "claims"
	ctxHotelID    contextKey = "hotel_id"
	ctxRequestID  contextKey = "request_id"
)

func OperatorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperatorID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ClaimsFromContext returns the verified token claims, or nil outside Auth.
func ClaimsFromContext(ctx context.Context) *pkgAuth.AccessTokenClaims {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxClaims).(*pkgAuth.AccessTokenClaims); ok {
		return v
	}
	return nil
}

// HotelIDFromContext returns the hotel resolved by HotelScope.
func HotelIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxHotelID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// CanAccessHotel reports whether the caller's token covers hotelID.
func CanAccessHotel(ctx context.Context, hotelID uuid.UUID) bool {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return false
	}
	return claims.CanAccessHotel(hotelID)
}

// WithClaims injects verified claims into the context.
func WithClaims(ctx context.Context, claims *pkgAuth.AccessTokenClaims) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if claims == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, ctxClaims, claims)
	ctx = context.WithValue(ctx, ctxOperatorID, claims.OperatorID)
	return context.WithValue(ctx, ctxRole, string(claims.Role))
}

// WithHotelID injects the scoped hotel for downstream handlers.
func WithHotelID(ctx context.Context, hotelID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxHotelID, hotelID)
}
