package auth_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/barberhub/totem-api/internal/auth"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret"
	staffID := uuid.New()

	token, err := auth.GenerateToken(secret, staffID, auth.RoleBarber)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := auth.ValidateToken(secret, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}

	if claims.StaffID != staffID {
		t.Errorf("staff ID: got %v, want %v", claims.StaffID, staffID)
	}
	if claims.Role != auth.RoleBarber {
		t.Errorf("role: got %v, want %v", claims.Role, auth.RoleBarber)
	}
	if claims.SeesAllSales() {
		t.Error("barber should only see own sales")
	}
}

func TestSeesAllSales(t *testing.T) {
	for _, role := range []string{auth.RoleAdmin, auth.RoleManager} {
		c := auth.Claims{Role: role}
		if !c.SeesAllSales() {
			t.Errorf("%s should see all sales", role)
		}
	}
}

func TestValidateTokenWithWrongSecret(t *testing.T) {
	token, err := auth.GenerateToken("secret-a", uuid.New(), auth.RoleAdmin)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	_, err = auth.ValidateToken("secret-b", token)
	if err == nil {
		t.Fatal("expected error validating with wrong secret")
	}
}

func TestValidateTokenWithInvalidString(t *testing.T) {
	_, err := auth.ValidateToken("secret", "not-a-jwt")
	if err == nil {
		t.Fatal("expected error validating invalid token string")
	}
}

func TestValidateTokenWithoutSecret(t *testing.T) {
	token, _ := auth.GenerateToken("", uuid.New(), auth.RoleAdmin)
	if _, err := auth.ValidateToken("", token); err == nil {
		t.Fatal("an empty secret must never validate")
	}
}

func TestBridgeToken(t *testing.T) {
	token, err := auth.GenerateBridgeToken("bridge-secret", "totem-01")
	if err != nil {
		t.Fatalf("generate bridge token: %v", err)
	}

	claims, err := auth.ValidateBridgeToken("bridge-secret", token)
	if err != nil {
		t.Fatalf("validate bridge token: %v", err)
	}
	if claims.TerminalID != "totem-01" {
		t.Errorf("terminal ID: got %q", claims.TerminalID)
	}

	if _, err := auth.ValidateBridgeToken("other", token); err == nil {
		t.Error("expected error with wrong secret")
	}
}
