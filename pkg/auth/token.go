package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/recurforge/commerce-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// CaptureTokenClaims binds a capture request to the checkout that minted it.
type CaptureTokenClaims struct {
	OrderID        uuid.UUID `json:"order_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	Gateway        string    `json:"gateway"`
	jwt.RegisteredClaims
}

// CaptureTokenPayload is the input to MintCaptureToken.
type CaptureTokenPayload struct {
	OrderID        uuid.UUID
	GatewayOrderID string
	Gateway        string
	JTI            string
}

// MintCaptureToken issues a signed JWT scoped to one pending order. The
// capture endpoint accepts it as proof the caller started this checkout.
func MintCaptureToken(cfg config.CaptureTokenConfig, now time.Time, payload CaptureTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("capture token secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("capture token issuer is required")
	}
	if cfg.TTL <= 0 {
		return "", fmt.Errorf("capture token ttl must be positive")
	}
	if payload.OrderID == uuid.Nil {
		return "", fmt.Errorf("order id is required")
	}
	if payload.Gateway == "" {
		return "", fmt.Errorf("gateway id is required")
	}

	issuedAt := jwt.NewNumericDate(now)
	expiry := jwt.NewNumericDate(now.Add(cfg.TTL))

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := CaptureTokenClaims{
		OrderID:        payload.OrderID,
		GatewayOrderID: payload.GatewayOrderID,
		Gateway:        payload.Gateway,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiry,
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing capture token: %w", err)
	}
	return signed, nil
}

// ParseCaptureToken validates the JWT string and returns typed claims.
func ParseCaptureToken(cfg config.CaptureTokenConfig, tokenString string) (*CaptureTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("capture token secret is required")
	}

	claims := &CaptureTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
