package apns

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sideshow/apns2/token"
)

// Signer produces the ES256 provider token APNs expects as a bearer credential.
type Signer struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	now    func() time.Time
}

// NewSigner parses the .p8 key (PKCS#8 PEM) so a bad key fails at startup.
func NewSigner(keyID, teamID string, privateKeyPEM []byte) (*Signer, error) {
	authKey, err := token.AuthKeyFromBytes(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}
	return &Signer{
		key:    authKey,
		keyID:  keyID,
		teamID: teamID,
		now:    time.Now,
	}, nil
}

// Sign returns a compact JWT. APNs rejects sub-second issue times, so iat is
// the current time floored to the second.
func (s *Signer) Sign(_ context.Context) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": s.now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign APNs token: %w", err)
	}
	return signed, nil
}
