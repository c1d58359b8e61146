package middleware

import (
	"fmt"
	"strings"
	"time"

	"facilitator/internal/config"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

// PayerClaims identifies the payer wallet a /payer/* request is scoped to.
// Tokens are minted by /settle once a payer's payment has settled, so
// possession of the token stands in for the wallet signature on
// subsequent session-management calls.
type PayerClaims struct {
	PayerAddress string `json:"payer_address"`
	jwt.RegisteredClaims
}

const payerTokenIssuer = "x402-facilitator"

// PayerAuthMiddleware validates the bearer JWT on /payer/* routes and
// exposes the payer wallet address as c.Locals("payer_address").
type PayerAuthMiddleware struct {
	config *config.AuthConfig
}

// NewPayerAuthMiddleware creates a new payer-auth middleware instance.
func NewPayerAuthMiddleware(cfg *config.AuthConfig) *PayerAuthMiddleware {
	return &PayerAuthMiddleware{config: cfg}
}

// IssueToken mints a payer-scoped access token for payerAddress.
func (m *PayerAuthMiddleware) IssueToken(payerAddress string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(m.config.AccessTokenTTL)

	claims := PayerClaims{
		PayerAddress: strings.ToLower(payerAddress),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			NotBefore: jwt.NewNumericDate(time.Now().UTC()),
			Subject:   strings.ToLower(payerAddress),
			Issuer:    payerTokenIssuer,
			Audience:  jwt.ClaimStrings{payerTokenIssuer},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign payer token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate returns a Fiber handler that validates the Authorization:
// Bearer <jwt> header and sets c.Locals("payer_address").
func (m *PayerAuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		tokenString := bearerToken(c.Get("Authorization"))
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}

		token, err := jwt.ParseWithClaims(tokenString, &PayerClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(m.config.JWTSecret), nil
		},
			jwt.WithIssuer(payerTokenIssuer),
			jwt.WithAudience(payerTokenIssuer),
		)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		claims, ok := token.Claims.(*PayerClaims)
		if !ok || !token.Valid || claims.PayerAddress == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token claims",
			})
		}

		c.Locals("payer_address", claims.PayerAddress)
		return c.Next()
	}
}
