package totp

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_GenerateSecret(t *testing.T) {
	e := NewEngine("ShadowAuthz")

	secret, uri, err := e.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	assert.Equal(t, "totp", u.Host)
	assert.Equal(t, secret, u.Query().Get("secret"))
	assert.Equal(t, "ShadowAuthz", u.Query().Get("issuer"))

	rebuilt, err := e.ProvisioningURI("alice@example.com", secret)
	require.NoError(t, err)
	assert.Equal(t, uri, rebuilt)
}

func TestEngine_ProvisioningURIRejectsGarbage(t *testing.T) {
	_, err := NewEngine("x").ProvisioningURI("bob", "not base32 !!")
	assert.Error(t, err)
}

func TestEngine_ValidateSkew(t *testing.T) {
	e := NewEngine("ShadowAuthz")
	secret, _, err := e.GenerateSecret("alice")
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 15, 0, time.UTC)
	code, err := e.GenerateCode(secret, at)
	require.NoError(t, err)

	tests := []struct {
		name  string
		at    time.Time
		valid bool
	}{
		{"same step", at, true},
		{"one step later", at.Add(30 * time.Second), true},
		{"one step earlier", at.Add(-30 * time.Second), true},
		{"two steps later", at.Add(60 * time.Second), false},
		{"two steps earlier", at.Add(-60 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, e.Validate(code, secret, tt.at))
		})
	}

	assert.False(t, e.Validate("12345", secret, at))
	assert.False(t, e.Validate("abcdef", secret, at))
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, hashes, err := GenerateBackupCodes(0)
	require.NoError(t, err)
	require.Len(t, codes, DefaultBackupCodeCount)
	require.Len(t, hashes, DefaultBackupCodeCount)

	seen := map[string]bool{}
	for i, c := range codes {
		assert.Len(t, c, 11)
		assert.Equal(t, "-", string(c[5]))
		assert.False(t, seen[c])
		seen[c] = true
		assert.Equal(t, HashBackupCode(c), hashes[i])
		assert.False(t, strings.ContainsAny(c, "0O1IL"))
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	assert.Equal(t, "ABCDE23456", NormalizeBackupCode(" abcde-23456 "))
	assert.Equal(t, HashBackupCode("ABCDE-23456"), HashBackupCode("abcde 23456"))
}

func TestQRCodePNG(t *testing.T) {
	_, uri, err := NewEngine("ShadowAuthz").GenerateSecret("alice")
	require.NoError(t, err)

	img, err := QRCodePNG(uri, 128)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), img[:4])
}
