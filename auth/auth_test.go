package auth

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)
	password := "Tr0p-s3cret-pour-un-lab!"

	hash, err := HashPassword(password)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	match, err := ComparePassword(password, hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("WrongPassword1!", hash)
	req.NoError(err)
	req.False(match)
}

func TestGenerateAndValidateToken(t *testing.T) {
	req := require.New(t)

	token, err := GenerateToken("u1", "alice", time.Hour)
	req.NoError(err)

	claims, err := ValidateToken(token)
	req.NoError(err)
	req.Equal("u1", claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal("chat-hub", claims.Issuer)
}

func TestValidateToken_Expired(t *testing.T) {
	req := require.New(t)

	token, err := GenerateToken("u1", "alice", -time.Minute)
	req.NoError(err)

	_, err = ValidateToken(token)
	req.Error(err)
}

func TestGate_Admit(t *testing.T) {
	req := require.New(t)
	gate := NewGate(slog.Default())

	token, err := GenerateToken("u7", "greg", time.Hour)
	req.NoError(err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", token, false},
		{"missing token", "", true},
		{"garbage token", "not-a-jwt", true},
		{"tampered token", token + "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := gate.Admit(tt.token)
			if tt.wantErr {
				req.Error(err)
			} else {
				req.NoError(err)
				req.Equal("u7", identity.ID)
				req.Equal("greg", identity.Username)
			}
		})
	}
}

func TestRegistrationValidation(t *testing.T) {
	req := require.New(t)
	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr bool
	}{
		{"Valid request", RegisterRequest{"alice.b", "test@example.com", "ComplexPass123!"}, false},
		{"Invalid email", RegisterRequest{"alice.b", "notanemail", "ComplexPass123!"}, true},
		{"Username too short", RegisterRequest{"ab", "test@example.com", "ComplexPass123!"}, true},
		{"Username forbidden chars", RegisterRequest{"al ice", "test@example.com", "ComplexPass123!"}, true},
		{"Password too short", RegisterRequest{"alice.b", "test@example.com", "Short1!"}, true},
		{"Missing digit", RegisterRequest{"alice.b", "test@example.com", "NoDigitPassword!"}, true},
		{"Missing special char", RegisterRequest{"alice.b", "test@example.com", "NoSpecialChar123"}, true},
		{"Missing uppercase", RegisterRequest{"alice.b", "test@example.com", "nouppercase123!!"}, true},
		{"Password too long (edge case)", RegisterRequest{"alice.b", "test@example.com", strings.Repeat("a", 73)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegister(tt.req)
			if tt.wantErr {
				req.Error(err)
			} else {
				req.NoError(err)
			}
		})
	}
}

// BenchmarkHashPassword measures the CPU cost of one hash (sizing concern for login bursts).
func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = HashPassword("A-very-long-and-complex-password-for-bench-123!")
	}
}
