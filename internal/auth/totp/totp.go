package totp

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultBackupCodeCount is the number of backup codes generated per set.
	DefaultBackupCodeCount = 10
	// backupCodeHalf is the length of each dash-separated half of a backup code.
	backupCodeHalf = 5
	// backupCodeCharset excludes 0/O, 1/I/L and similar pairs.
	backupCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Engine generates and validates TOTP secrets, codes and backup codes.
type Engine struct {
	issuer string
	opts   totp.ValidateOpts
}

// NewEngine returns an Engine using SHA1, six digits, a 30 second period and
// one step of clock skew in either direction.
func NewEngine(issuer string) *Engine {
	return &Engine{
		issuer: issuer,
		opts: totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// GenerateSecret creates a new base32 secret and its otpauth:// provisioning URI.
func (e *Engine) GenerateSecret(accountLabel string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountLabel,
		Period:      e.opts.Period,
		SecretSize:  20,
		Digits:      e.opts.Digits,
		Algorithm:   e.opts.Algorithm,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ProvisioningURI builds the otpauth:// URI for an existing secret.
func (e *Engine) ProvisioningURI(accountLabel, secret string) (string, error) {
	raw, err := secretEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("decode TOTP secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountLabel,
		Period:      e.opts.Period,
		Secret:      raw,
		Digits:      e.opts.Digits,
		Algorithm:   e.opts.Algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build TOTP key: %w", err)
	}
	return key.URL(), nil
}

// Validate checks a code against the secret at the given instant with ±1 step tolerance.
func (e *Engine) Validate(code, secret string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != e.opts.Digits.Length() {
		return false
	}

	ok, err := totp.ValidateCustom(code, strings.TrimSpace(secret), at.UTC(), e.opts)
	if err != nil {
		return false
	}
	return ok
}

// GenerateCode returns the code for the secret at the given instant.
func (e *Engine) GenerateCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(strings.TrimSpace(secret), at.UTC(), e.opts)
	if err != nil {
		return "", fmt.Errorf("generate TOTP code: %w", err)
	}
	return code, nil
}

// QRCodePNG renders a provisioning URI as a PNG image.
func QRCodePNG(otpAuthURI string, size int) ([]byte, error) {
	key, err := otp.NewKeyFromURL(otpAuthURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse otpauth uri for QR code: %w", err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code image to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateBackupCodes returns n unique plaintext codes of the form XXXXX-XXXXX
// together with their storage hashes.
func GenerateBackupCodes(n int) (codes []string, hashes []string, err error) {
	if n <= 0 {
		n = DefaultBackupCodeCount
	}

	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	seen := make(map[string]struct{}, n)

	for len(codes) < n {
		b := make([]byte, backupCodeHalf*2)
		if _, err := rand.Read(b); err != nil {
			return nil, nil, fmt.Errorf("failed to read random bytes for backup code: %w", err)
		}
		for i := range b {
			b[i] = backupCodeCharset[int(b[i])%len(backupCodeCharset)]
		}
		code := string(b[:backupCodeHalf]) + "-" + string(b[backupCodeHalf:])
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, HashBackupCode(code))
	}
	return codes, hashes, nil
}

// NormalizeBackupCode uppercases a code and strips separators users tend to type.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// HashBackupCode returns the storage hash of a backup code after normalization.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}
