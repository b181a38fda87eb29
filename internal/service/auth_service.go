package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"calculator-api/internal/model"
)

const tokenTypeBearer = "bearer"

// dummyPassword is hashed once at startup so that logins for unknown users
// spend the same time in bcrypt as logins with a wrong password.
const dummyPassword = "calculator-api/unknown-user"

type CredentialStore interface {
	UserFinder
	FindByUsernameOrEmail(ctx context.Context, identifier string) (model.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username string, email string, excludeID uuid.UUID) (bool, error)
	Create(ctx context.Context, u model.User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateProfile(ctx context.Context, u model.User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type AuthOptions struct {
	// RequireActiveAtLogin refuses to mint tokens for inactive accounts. When
	// false, inactive accounts can log in but every protected request fails.
	RequireActiveAtLogin bool
}

type AuthService struct {
	users         CredentialStore
	hasher        PasswordHasher
	codec         *TokenCodec
	revocations   RevocationRegistry
	resolver      *SessionResolver
	requireActive bool
	dummyHash     string
	now           func() time.Time
}

func NewAuthService(users CredentialStore, hasher PasswordHasher, codec *TokenCodec, revocations RevocationRegistry, resolver *SessionResolver, opts AuthOptions) (*AuthService, error) {
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:         users,
		hasher:        hasher,
		codec:         codec,
		revocations:   revocations,
		resolver:      resolver,
		requireActive: opts.RequireActiveAtLogin,
		dummyHash:     dummyHash,
		now:           time.Now,
	}, nil
}

// Login authenticates by username or email. Unknown identifiers and wrong
// passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, identifier string, password string) (model.LoginResult, error) {
	user, err := s.users.FindByUsernameOrEmail(ctx, identifier)
	if err != nil && !errors.Is(err, model.ErrUserNotFound) {
		return model.LoginResult{}, err
	}

	if err != nil {
		s.hasher.Verify(password, s.dummyHash)
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	if s.requireActive && !user.IsActive {
		return model.LoginResult{}, model.ErrInactiveUser
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return model.LoginResult{}, err
	}
	user.LastLogin = &now

	slog.Info("user logged in", "user_id", user.ID)
	return s.issuePair(user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair
// is minted for the same user. Only the caller whose revocation inserts the id
// gets a pair; concurrent refreshes with the same token are rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.LoginResult, error) {
	session, err := s.resolver.resolve(ctx, refreshToken, model.TokenRefresh, SessionLookup{Users: s.users})
	if err != nil {
		return model.LoginResult{}, err
	}

	claimed, err := s.revocations.Revoke(ctx, session.Claims.TokenID, session.Claims.ExpiresAt)
	if err != nil {
		return model.LoginResult{}, err
	}
	if !claimed {
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	return s.issuePair(session.User)
}

// Logout revokes the access token that authenticated the request and, when it
// belongs to the same user, the supplied refresh token.
func (s *AuthService) Logout(ctx context.Context, access *model.AuthClaims, refreshToken string) error {
	if access == nil || access.TokenID == "" {
		return model.ErrInvalidCredentials
	}

	if _, err := s.revocations.Revoke(ctx, access.TokenID, access.ExpiresAt); err != nil {
		return err
	}

	if refreshToken == "" {
		return nil
	}

	refresh, err := s.codec.Decode(refreshToken)
	if err != nil || refresh.Type != model.TokenRefresh || refresh.TokenID == "" {
		return nil
	}

	owner, ok := ExtractSubject(refresh.Subject)
	subject, _ := ExtractSubject(access.Subject)
	if !ok || owner != subject {
		return nil
	}

	_, err = s.revocations.Revoke(ctx, refresh.TokenID, refresh.ExpiresAt)
	return err
}

// Revoke invalidates a single token before its natural expiry. Tokens that
// fail to decode are already unusable and are ignored.
func (s *AuthService) Revoke(ctx context.Context, token string) error {
	claims, err := s.codec.Decode(token)
	if err != nil || claims.TokenID == "" {
		return nil
	}
	_, err = s.revocations.Revoke(ctx, claims.TokenID, claims.ExpiresAt)
	return err
}

func (s *AuthService) issuePair(user model.User) (model.LoginResult, error) {
	access, err := s.codec.IssueForUser(user, model.TokenAccess)
	if err != nil {
		return model.LoginResult{}, err
	}

	refresh, err := s.codec.IssueForUser(user, model.TokenRefresh)
	if err != nil {
		return model.LoginResult{}, err
	}

	return model.LoginResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    tokenTypeBearer,
		ExpiresAt:    access.ExpiresAt,
		User:         user,
	}, nil
}
