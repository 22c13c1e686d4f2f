package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-hp"

const testIssuer = "https://idp.test/realms/headplane"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestValidator создаёт IDTokenValidator с ключом из теста.
func newTestValidator(t *testing.T, key *rsa.PrivateKey) *IDTokenValidator {
	t.Helper()
	jwksJSON := buildJWKSetJSON(&key.PublicKey, testKeyID)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	return NewIDTokenValidatorWithKeyfunc(kf, testIssuer, "headplane", testLogger())
}

// generateIDToken генерирует подписанный ID-токен.
func generateIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

func baseClaims(exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "subj-alice",
		"iss": testIssuer,
		"aud": "headplane",
		"exp": jwt.NewNumericDate(exp),
		"iat": jwt.NewNumericDate(time.Now()),
	}
}

func TestValidate_OK(t *testing.T) {
	key := generateTestKey(t)
	v := newTestValidator(t, key)

	claims := baseClaims(time.Now().Add(time.Hour))
	claims["email"] = "alice@example.com"
	claims["name"] = "Alice"
	claims["picture"] = "https://idp.test/avatars/alice.png"

	profile, err := v.Validate(context.Background(), generateIDToken(t, key, claims))
	if err != nil {
		t.Fatalf("Validate() ошибка: %v", err)
	}
	if profile.Subject != "subj-alice" {
		t.Errorf("Subject = %q, хотели %q", profile.Subject, "subj-alice")
	}
	if profile.Email != "alice@example.com" {
		t.Errorf("Email = %q, хотели %q", profile.Email, "alice@example.com")
	}
	if profile.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, хотели %q", profile.DisplayName, "Alice")
	}
}

func TestValidate_Expired(t *testing.T) {
	key := generateTestKey(t)
	v := newTestValidator(t, key)

	claims := baseClaims(time.Now().Add(-time.Hour))
	if _, err := v.Validate(context.Background(), generateIDToken(t, key, claims)); err == nil {
		t.Error("просроченный токен должен быть отклонён")
	}
}

func TestValidate_WrongIssuer(t *testing.T) {
	key := generateTestKey(t)
	v := newTestValidator(t, key)

	claims := baseClaims(time.Now().Add(time.Hour))
	claims["iss"] = "https://evil.test"
	if _, err := v.Validate(context.Background(), generateIDToken(t, key, claims)); err == nil {
		t.Error("токен с чужим issuer должен быть отклонён")
	}
}

func TestValidate_WrongAudience(t *testing.T) {
	key := generateTestKey(t)
	v := newTestValidator(t, key)

	claims := baseClaims(time.Now().Add(time.Hour))
	claims["aud"] = "other-client"
	if _, err := v.Validate(context.Background(), generateIDToken(t, key, claims)); err == nil {
		t.Error("токен с чужим audience должен быть отклонён")
	}
}

func TestValidate_WrongKey(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	v := newTestValidator(t, key)

	claims := baseClaims(time.Now().Add(time.Hour))
	if _, err := v.Validate(context.Background(), generateIDToken(t, otherKey, claims)); err == nil {
		t.Error("токен, подписанный чужим ключом, должен быть отклонён")
	}
}

func TestValidate_MissingSub(t *testing.T) {
	key := generateTestKey(t)
	v := newTestValidator(t, key)

	claims := baseClaims(time.Now().Add(time.Hour))
	delete(claims, "sub")
	if _, err := v.Validate(context.Background(), generateIDToken(t, key, claims)); err == nil {
		t.Error("токен без sub должен быть отклонён")
	}
}
