package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleBarber  = "BARBER"
)

// Claims identify a back-office user of the staff dashboard.
type Claims struct {
	StaffID uuid.UUID `json:"staff_id"`
	Role    string    `json:"role"`
	jwt.RegisteredClaims
}

// SeesAllSales reports whether the role may follow every sale rather than
// only the staff member's own.
func (c *Claims) SeesAllSales() bool {
	return c.Role == RoleAdmin || c.Role == RoleManager
}

// BridgeClaims identify the TEF bridge pushing terminal results.
type BridgeClaims struct {
	TerminalID string `json:"terminal_id"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, staffID uuid.UUID, role string) (string, error) {
	claims := Claims{
		StaffID: staffID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// GenerateBridgeToken signs a short-lived token for one callback.
func GenerateBridgeToken(secret, terminalID string) (string, error) {
	claims := BridgeClaims{
		TerminalID: terminalID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateBridgeToken(secret, tokenStr string) (*BridgeClaims, error) {
	claims := &BridgeClaims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func parse(secret, tokenStr string, claims jwt.Claims) error {
	if secret == "" {
		return fmt.Errorf("signing secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
