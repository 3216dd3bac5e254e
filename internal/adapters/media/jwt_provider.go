// Package media implements the token contract of the external real-time
// audio provider. Only tokens cross this boundary; media bytes never do.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sanctumlive/sanctum/internal/app"
	"github.com/sanctumlive/sanctum/internal/domain"
)

var ErrNoSecret = errors.New("media: signing secret not configured")

// joinClaims is the signed identity a client presents to the media service.
type joinClaims struct {
	jwt.RegisteredClaims
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

// JWTProvider issues HS256 join tokens scoped to one session channel.
type JWTProvider struct {
	AppID  string
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewJWTProvider(appID string, secret []byte, ttl time.Duration) *JWTProvider {
	return &JWTProvider{AppID: appID, Secret: secret, TTL: ttl, Now: time.Now}
}

func (p *JWTProvider) Token(ctx context.Context, sid domain.SessionID, pid domain.ParticipantID, role domain.Role) (app.Token, error) {
	if len(p.Secret) == 0 {
		return app.Token{}, ErrNoSecret
	}
	now := p.Now()
	expiresAt := now.Add(p.TTL)
	channel := fmt.Sprintf("%s-%s", p.AppID, sid)

	claims := joinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.AppID,
			Subject:   string(pid),
			Audience:  jwt.ClaimStrings{channel},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID:     string(sid),
		ParticipantID: string(pid),
		Role:          string(role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.Secret)
	if err != nil {
		return app.Token{}, fmt.Errorf("sign media token: %w", err)
	}
	return app.Token{
		AppID:       p.AppID,
		Token:       signed,
		ChannelName: channel,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify parses a token issued by this provider. Used by tests and by the
// provider-facing webhook to authenticate callbacks.
func (p *JWTProvider) Verify(raw string) (domain.SessionID, domain.ParticipantID, error) {
	var claims joinClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.Secret, nil
	}, jwt.WithTimeFunc(p.Now))
	if err != nil {
		return "", "", err
	}
	return domain.SessionID(claims.SessionID), domain.ParticipantID(claims.ParticipantID), nil
}
