package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting an operator JWT.
type AccessTokenPayload struct {
	OperatorID string
	Role       enums.OperatorRole
	// HotelIDs limits the token to these hotels; empty means every hotel.
	HotelIDs []uuid.UUID
	JTI      string
}

// AccessTokenClaims represents the typed JWT presented to the admin API.
type AccessTokenClaims struct {
	OperatorID string             `json:"operator_id"`
	Role       enums.OperatorRole `json:"role"`
	HotelIDs   []uuid.UUID        `json:"hotel_ids,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessHotel reports whether the token is scoped to hotelID.
func (c *AccessTokenClaims) CanAccessHotel(hotelID uuid.UUID) bool {
	if len(c.HotelIDs) == 0 {
		return true
	}
	for _, id := range c.HotelIDs {
		if id == hotelID {
			return true
		}
	}
	return false
}
