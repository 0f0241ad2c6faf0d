package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"paper-trading-engine/config"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	token, err := m.GenerateAccessToken(UserClaims{UserID: "operator", Username: "admin", IsAdmin: true})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "operator" || claims.Username != "admin" || !claims.IsAdmin {
		t.Errorf("claims = %+v, want operator/admin/true", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Hour, 24*time.Hour)
	verifier := NewJWTManager("secret-b", time.Hour, 24*time.Hour)

	token, err := issuer.GenerateAccessToken(UserClaims{UserID: "operator"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want %v", err, ErrInvalidToken)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute, 24*time.Hour)
	token, err := m.GenerateAccessToken(UserClaims{UserID: "operator"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want %v", err, ErrTokenExpired)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	if _, err := m.ValidateAccessToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want %v", err, ErrInvalidToken)
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	a, err := m.GenerateRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.GenerateRefreshToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("refresh tokens should be random")
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost, 8)

	hash, err := pm.HashPassword("Corr3ct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !pm.VerifyPassword("Corr3ct-horse", hash) {
		t.Error("correct password rejected")
	}
	if pm.VerifyPassword("wrong-password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	pm := NewPasswordManager(bcrypt.MinCost, 8)
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"strong", "Str0ng-pass", false},
		{"three of four", "nocaps123!", false},
		{"too short", "Ab1!", true},
		{"only lowercase", "alllowercaseletters", true},
		{"two types", "lowercase123", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pm.ValidatePasswordStrength(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func testAuthService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Hunter-42!"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(config.AuthConfig{
		JWTSecret:            "test-secret",
		AccessTokenDuration:  time.Hour,
		RefreshTokenDuration: 24 * time.Hour,
		AdminUsername:        "admin",
		AdminPasswordHash:    string(hash),
		MinPasswordLength:    8,
	}, zerolog.Nop())
}

func TestLogin(t *testing.T) {
	s := testAuthService(t)

	pair, err := s.Login("admin", "Hunter-42!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		t.Errorf("incomplete token pair: %+v", pair)
	}

	claims, err := s.JWT().ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if !claims.IsAdmin {
		t.Error("operator should be admin")
	}

	if _, err := s.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want %v", err, ErrInvalidCredentials)
	}
	if _, err := s.Login("other", "Hunter-42!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong username err = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestRefreshRotation(t *testing.T) {
	s := testAuthService(t)
	pair, err := s.Login("admin", "Hunter-42!")
	if err != nil {
		t.Fatal(err)
	}

	next, err := s.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// The old token is revoked on use
	if _, err := s.Refresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("reused token err = %v, want %v", err, ErrInvalidToken)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	s := testAuthService(t)
	pair, err := s.Login("admin", "Hunter-42!")
	if err != nil {
		t.Fatal(err)
	}
	s.Logout(pair.RefreshToken)
	if _, err := s.Refresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err after logout = %v, want %v", err, ErrInvalidToken)
	}
}
