package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "channelcore",
		ExpirationMinutes: 30,
	}
	now := time.Now().UTC()
	hotelID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{
		OperatorID: "ops@example.com",
		Role:       enums.OperatorRoleAdmin,
		HotelIDs:   []uuid.UUID{hotelID},
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.OperatorID != "ops@example.com" {
		t.Fatalf("unexpected operator %q", claims.OperatorID)
	}
	if claims.Role != enums.OperatorRoleAdmin {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be set")
	}
	if !claims.CanAccessHotel(hotelID) {
		t.Fatalf("expected token scoped to %s", hotelID)
	}
	if claims.CanAccessHotel(uuid.New()) {
		t.Fatalf("token should not reach other hotels")
	}
}

func TestMintRejectsUnknownRole(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "channelcore", ExpirationMinutes: 5}
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{OperatorID: "x", Role: "owner"}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "channelcore", ExpirationMinutes: 5}
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{OperatorID: "x", Role: enums.OperatorRoleViewer})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	cfg.Issuer = "someone-else"
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "channelcore", ExpirationMinutes: 1}
	token, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), AccessTokenPayload{OperatorID: "x", Role: enums.OperatorRoleViewer})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestParseAcceptsPreviousSecretDuringRotation(t *testing.T) {
	old := config.JWTConfig{Secret: "old-secret", Issuer: "channelcore", Audience: "channelcore-admin", ExpirationMinutes: 5}
	token, err := MintAccessToken(old, time.Now(), AccessTokenPayload{OperatorID: "x", Role: enums.OperatorRoleViewer})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	rotated := old
	rotated.Secret = "new-secret"
	if _, err := ParseAccessToken(rotated, token); err == nil {
		t.Fatalf("a token from a retired key must fail")
	}
	rotated.PreviousSecret = "old-secret"
	if _, err := ParseAccessToken(rotated, token); err != nil {
		t.Fatalf("previous secret should still verify: %v", err)
	}
}

func TestParseRejectsWrongAudience(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "channelcore", Audience: "channelcore-admin", ExpirationMinutes: 5}
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{OperatorID: "x", Role: enums.OperatorRoleViewer})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	cfg.Audience = "billing"
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestParseLeewayToleratesClockSkew(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "channelcore", ExpirationMinutes: 5}
	// minted by a host whose clock runs ten seconds ahead
	token, err := MintAccessToken(cfg, time.Now().Add(10*time.Second), AccessTokenPayload{OperatorID: "x", Role: enums.OperatorRoleViewer})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatalf("without leeway a future token must fail")
	}
	cfg.Leeway = 30 * time.Second
	if _, err := ParseAccessToken(cfg, token); err != nil {
		t.Fatalf("leeway should absorb skew: %v", err)
	}
}
