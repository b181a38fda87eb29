package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"calculator-api/internal/model"
)

// subjectAliases is the fixed list of claim keys accepted as the subject on
// decode. Issued tokens always use "sub".
var subjectAliases = []string{"sub", "id", "user_id"}

type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

type TokenCodec struct {
	secret       []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	embedProfile bool
	now          func() time.Time
}

type CodecOption func(*TokenCodec)

// WithEmbeddedProfile makes access tokens minted by IssueForUser carry the
// user's public profile under "usr".
func WithEmbeddedProfile() CodecOption {
	return func(c *TokenCodec) { c.embedProfile = true }
}

func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

func NewTokenCodec(secret string, accessTTL time.Duration, refreshTTL time.Duration, opts ...CodecOption) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if accessTTL >= refreshTTL {
		return nil, fmt.Errorf("access TTL (%s) must be shorter than refresh TTL (%s)", accessTTL, refreshTTL)
	}

	codec := &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(codec)
	}

	return codec, nil
}

func (c *TokenCodec) TTL(kind model.TokenKind) time.Duration {
	if kind == model.TokenRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

func (c *TokenCodec) Issue(subject uuid.UUID, kind model.TokenKind) (IssuedToken, error) {
	return c.issue(subject, kind, nil)
}

func (c *TokenCodec) IssueForUser(user model.User, kind model.TokenKind) (IssuedToken, error) {
	var profile *model.UserProfile
	if c.embedProfile && kind == model.TokenAccess {
		p := user.Profile()
		profile = &p
	}
	return c.issue(user.ID, kind, profile)
}

func (c *TokenCodec) issue(subject uuid.UUID, kind model.TokenKind, profile *model.UserProfile) (IssuedToken, error) {
	if subject == uuid.Nil {
		return IssuedToken{}, errors.New("token subject is required")
	}
	if !kind.Valid() {
		return IssuedToken{}, fmt.Errorf("unknown token kind %q", kind)
	}

	now := c.now().UTC()
	expiresAt := now.Add(c.TTL(kind))
	tokenID := ksuid.New().String()

	claims := jwt.MapClaims{
		"sub": subject.String(),
		"typ": string(kind),
		"jti": tokenID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	if profile != nil {
		claims["usr"] = profile
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return IssuedToken{
		Token:     signed,
		ID:        tokenID,
		ExpiresAt: time.Unix(expiresAt.Unix(), 0).UTC(),
	}, nil
}

// Decode verifies the signature and expiry of a token. Every failure is
// reported as model.ErrInvalidCredentials; the reason only reaches the debug log.
func (c *TokenCodec) Decode(tokenString string) (*model.AuthClaims, error) {
	mapClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, mapClaims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		slog.Debug("token rejected", "reason", rejectReason(err))
		return nil, model.ErrInvalidCredentials
	}

	claims := &model.AuthClaims{Subject: lookupSubject(mapClaims)}
	if typ, ok := mapClaims["typ"].(string); ok {
		claims.Type = model.TokenKind(typ)
	}
	claims.TokenID, _ = mapClaims["jti"].(string)
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.UTC()
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.UTC()
	}
	claims.Profile = decodeProfile(mapClaims["usr"])

	return claims, nil
}

// ExtractSubject returns the user identifier carried by v, which may be a bare
// identifier or a mapping holding it under one of the subject aliases.
func ExtractSubject(v any) (uuid.UUID, bool) {
	switch value := v.(type) {
	case nil:
		return uuid.Nil, false
	case uuid.UUID:
		return value, value != uuid.Nil
	case string:
		id, err := uuid.Parse(value)
		if err != nil || id == uuid.Nil {
			return uuid.Nil, false
		}
		return id, true
	case jwt.MapClaims:
		return ExtractSubject(map[string]any(value))
	case map[string]any:
		return ExtractSubject(lookupSubject(value))
	case fmt.Stringer:
		return ExtractSubject(value.String())
	default:
		return uuid.Nil, false
	}
}

func lookupSubject(m map[string]any) any {
	for _, key := range subjectAliases {
		if v, ok := m[key]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}

// decodeProfile returns the embedded profile only when it is complete enough
// to stand in for a stored user.
func decodeProfile(raw any) *model.UserProfile {
	if raw == nil {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	var profile model.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil
	}
	if profile.ID == "" || profile.Username == "" || profile.Email == "" {
		return nil
	}

	return &profile
}

func rejectReason(err error) string {
	switch {
	case err == nil:
		return "invalid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return err.Error()
	}
}
