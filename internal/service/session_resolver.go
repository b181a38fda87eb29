package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"calculator-api/internal/model"
)

type UserFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (model.User, error)
}

// ConnOpener hands out a store handle bound to a dedicated connection. The
// returned release func must be called exactly once.
type ConnOpener interface {
	Open(ctx context.Context) (UserFinder, func(), error)
}

type ConnOpenerFunc func(ctx context.Context) (UserFinder, func(), error)

func (f ConnOpenerFunc) Open(ctx context.Context) (UserFinder, func(), error) {
	return f(ctx)
}

// IdentityLookup turns a token subject into a user.
type IdentityLookup interface {
	Lookup(ctx context.Context, subject uuid.UUID, claims *model.AuthClaims) (model.User, error)
}

// SessionLookup queries the store through a handle supplied by the caller.
type SessionLookup struct {
	Users UserFinder
}

func (l SessionLookup) Lookup(ctx context.Context, subject uuid.UUID, _ *model.AuthClaims) (model.User, error) {
	user, err := l.Users.FindByID(ctx, subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

// ConnLookup opens its own connection for the lookup and releases it on every
// exit path, including cancellation and panics.
type ConnLookup struct {
	Opener ConnOpener
}

func (l ConnLookup) Lookup(ctx context.Context, subject uuid.UUID, claims *model.AuthClaims) (model.User, error) {
	users, release, err := l.Opener.Open(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("open store connection: %w", err)
	}
	defer release()

	return SessionLookup{Users: users}.Lookup(ctx, subject, claims)
}

// ClaimsLookup builds a transient, unpersisted user from the profile embedded
// in the token. It is only valid when no store is reachable.
type ClaimsLookup struct{}

func (ClaimsLookup) Lookup(_ context.Context, subject uuid.UUID, claims *model.AuthClaims) (model.User, error) {
	if claims == nil || claims.Profile == nil {
		return model.User{}, model.ErrInvalidCredentials
	}

	profile := claims.Profile
	if id, ok := ExtractSubject(profile.ID); !ok || id != subject {
		return model.User{}, model.ErrInvalidCredentials
	}

	return model.User{
		ID:         subject,
		Username:   profile.Username,
		Email:      profile.Email,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		IsActive:   profile.IsActive,
		IsVerified: profile.IsVerified,
		CreatedAt:  profile.CreatedAt,
	}, nil
}

type tokenDecoder interface {
	Decode(token string) (*model.AuthClaims, error)
}

// Session is a resolved request identity.
type Session struct {
	User   model.User
	Claims *model.AuthClaims
}

type SessionResolver struct {
	codec       tokenDecoder
	revocations RevocationRegistry
	opener      ConnOpener
}

// NewSessionResolver builds a resolver. opener may be nil when no store is
// reachable, in which case only ClaimsLookup can resolve users.
func NewSessionResolver(codec tokenDecoder, revocations RevocationRegistry, opener ConnOpener) *SessionResolver {
	return &SessionResolver{codec: codec, revocations: revocations, opener: opener}
}

// LookupFor picks the lookup mode from what the caller holds: its own session,
// else a self-managed connection, else the token claims.
func (r *SessionResolver) LookupFor(session UserFinder) IdentityLookup {
	switch {
	case session != nil:
		return SessionLookup{Users: session}
	case r.opener != nil:
		return ConnLookup{Opener: r.opener}
	default:
		return ClaimsLookup{}
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// ResolveHeader resolves the user presenting the given Authorization header.
func (r *SessionResolver) ResolveHeader(ctx context.Context, authorization string, lookup IdentityLookup) (Session, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return Session{}, reject("extract")
	}
	return r.ResolveSession(ctx, token, lookup)
}

func (r *SessionResolver) Resolve(ctx context.Context, token string, lookup IdentityLookup) (model.User, error) {
	session, err := r.ResolveSession(ctx, token, lookup)
	if err != nil {
		return model.User{}, err
	}
	return session.User, nil
}

// ResolveSession authenticates an access token. It fails with
// model.ErrInvalidCredentials for any token or lookup problem and with
// model.ErrInactiveUser when the account is disabled. Store failures are
// returned as-is.
func (r *SessionResolver) ResolveSession(ctx context.Context, token string, lookup IdentityLookup) (Session, error) {
	return r.resolve(ctx, token, model.TokenAccess, lookup)
}

func (r *SessionResolver) resolve(ctx context.Context, token string, kind model.TokenKind, lookup IdentityLookup) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, reject("extract")
	}

	claims, err := r.codec.Decode(token)
	if err != nil {
		return Session{}, reject("decode")
	}
	if claims.Type != kind {
		return Session{}, reject("kind")
	}

	if claims.TokenID == "" {
		return Session{}, reject("revocation_check")
	}
	revoked, err := r.revocations.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, reject("revocation_check")
	}

	subject, ok := ExtractSubject(claims.Subject)
	if !ok && claims.Profile != nil {
		subject, ok = ExtractSubject(claims.Profile.ID)
	}
	if !ok {
		return Session{}, reject("subject_extract")
	}

	if lookup == nil {
		lookup = r.LookupFor(nil)
	}
	if _, claimsOnly := lookup.(ClaimsLookup); claimsOnly && r.opener != nil {
		return Session{}, model.ErrStoreAvailable
	}

	user, err := lookup.Lookup(ctx, subject, claims)
	if errors.Is(err, model.ErrInvalidCredentials) {
		return Session{}, reject("lookup")
	}
	if err != nil {
		return Session{}, err
	}

	if !user.IsActive {
		slog.Debug("session rejected", "state", "active_check", "user_id", user.ID)
		return Session{}, model.ErrInactiveUser
	}

	return Session{User: user, Claims: claims}, nil
}

func reject(state string) error {
	slog.Debug("session rejected", "state", state)
	return model.ErrInvalidCredentials
}
