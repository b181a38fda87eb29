package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"calculator-api/internal/model"
	"calculator-api/pkg/apierror"
)

type authFixture struct {
	store       *mockCredentialStore
	hasher      PasswordHasher
	codec       *TokenCodec
	revocations *MemoryRevocations
	resolver    *SessionResolver
	svc         *AuthService
}

func newAuthFixture(t *testing.T, opts AuthOptions) *authFixture {
	t.Helper()

	f := &authFixture{
		store:       &mockCredentialStore{},
		hasher:      NewBcryptHasher(bcrypt.MinCost),
		codec:       newTestCodec(t),
		revocations: NewMemoryRevocations(),
	}
	f.resolver = NewSessionResolver(f.codec, f.revocations, nil)

	svc, err := NewAuthService(f.store, f.hasher, f.codec, f.revocations, f.resolver, opts)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *authFixture) user(t *testing.T, username string, password string, active bool) model.User {
	t.Helper()

	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	return model.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        username + "@x.com",
		PasswordHash: hash,
		IsActive:     active,
	}
}

func TestBcryptHasher(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("secret123")
	require.NoError(t, err)
	require.NotEqual(t, "secret123", hash)

	require.True(t, hasher.Verify("secret123", hash))
	require.False(t, hasher.Verify("secret124", hash))
	require.False(t, hasher.Verify("secret123", "not-a-hash"))

	require.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).Cost)
}

func TestLoginSuccess(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)

	f.store.On("FindByUsernameOrEmail", mock.Anything, "alice").Return(alice, nil)
	f.store.On("UpdateLastLogin", mock.Anything, alice.ID, mock.AnythingOfType("time.Time")).Return(nil)

	result, err := f.svc.Login(context.Background(), "alice", "secret123")
	require.NoError(t, err)
	require.Equal(t, "bearer", result.TokenType)
	require.NotNil(t, result.User.LastLogin)

	claims, err := f.codec.Decode(result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, model.TokenAccess, claims.Type)
	subject, ok := ExtractSubject(claims.Subject)
	require.True(t, ok)
	require.Equal(t, alice.ID, subject)
	require.Equal(t, claims.ExpiresAt, result.ExpiresAt)

	refresh, err := f.codec.Decode(result.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, model.TokenRefresh, refresh.Type)

	f.store.AssertExpectations(t)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)

	f.store.On("FindByUsernameOrEmail", mock.Anything, "alice").Return(alice, nil)
	f.store.On("FindByUsernameOrEmail", mock.Anything, "nobody").Return(model.User{}, model.ErrUserNotFound)

	_, wrongPassword := f.svc.Login(context.Background(), "alice", "nope")
	_, unknownUser := f.svc.Login(context.Background(), "nobody", "secret123")

	require.ErrorIs(t, wrongPassword, model.ErrInvalidCredentials)
	require.ErrorIs(t, unknownUser, model.ErrInvalidCredentials)
	require.Equal(t, wrongPassword.Error(), unknownUser.Error())

	f.store.AssertNotCalled(t, "UpdateLastLogin", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginStoreFailurePropagates(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	storeDown := errors.New("connection reset")
	f.store.On("FindByUsernameOrEmail", mock.Anything, "alice").Return(model.User{}, storeDown)

	_, err := f.svc.Login(context.Background(), "alice", "secret123")
	require.ErrorIs(t, err, storeDown)
	require.NotErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	t.Parallel()

	t.Run("allowed by default", func(t *testing.T) {
		f := newAuthFixture(t, AuthOptions{})
		bob := f.user(t, "bob", "secret123", false)
		f.store.On("FindByUsernameOrEmail", mock.Anything, "bob").Return(bob, nil)
		f.store.On("UpdateLastLogin", mock.Anything, bob.ID, mock.Anything).Return(nil)

		result, err := f.svc.Login(context.Background(), "bob", "secret123")
		require.NoError(t, err)

		// the token is minted but cannot authenticate
		_, err = f.resolver.Resolve(context.Background(), result.AccessToken, SessionLookup{Users: &memoryUsers{
			users: map[uuid.UUID]model.User{bob.ID: bob},
		}})
		require.ErrorIs(t, err, model.ErrInactiveUser)
	})

	t.Run("refused when required", func(t *testing.T) {
		f := newAuthFixture(t, AuthOptions{RequireActiveAtLogin: true})
		bob := f.user(t, "bob", "secret123", false)
		f.store.On("FindByUsernameOrEmail", mock.Anything, "bob").Return(bob, nil)

		_, err := f.svc.Login(context.Background(), "bob", "secret123")
		require.ErrorIs(t, err, model.ErrInactiveUser)
		f.store.AssertNotCalled(t, "UpdateLastLogin", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRefreshRotatesToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)
	f.store.On("FindByID", mock.Anything, alice.ID).Return(alice, nil)

	refresh, err := f.codec.IssueForUser(alice, model.TokenRefresh)
	require.NoError(t, err)

	result, err := f.svc.Refresh(context.Background(), refresh.Token)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEqual(t, refresh.Token, result.RefreshToken)

	revoked, err := f.revocations.IsRevoked(context.Background(), refresh.ID)
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = f.svc.Refresh(context.Background(), refresh.Token)
	require.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestRefreshConcurrentSingleUse(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)
	f.store.On("FindByID", mock.Anything, alice.ID).After(20*time.Millisecond).Return(alice, nil)

	refresh, err := f.codec.IssueForUser(alice, model.TokenRefresh)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), refresh.Token)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, model.ErrInvalidCredentials) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, 4, rejected)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)

	access, err := f.codec.IssueForUser(alice, model.TokenAccess)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), access.Token)
	require.ErrorIs(t, err, model.ErrInvalidCredentials)
	f.store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestLogoutRevokesTokens(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)
	mallory := f.user(t, "mallory", "secret123", true)

	access, err := f.codec.IssueForUser(alice, model.TokenAccess)
	require.NoError(t, err)
	refresh, err := f.codec.IssueForUser(alice, model.TokenRefresh)
	require.NoError(t, err)
	foreign, err := f.codec.IssueForUser(mallory, model.TokenRefresh)
	require.NoError(t, err)

	claims, err := f.codec.Decode(access.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), claims, foreign.Token))
	require.NoError(t, f.svc.Logout(context.Background(), claims, refresh.Token))

	for id, want := range map[string]bool{access.ID: true, refresh.ID: true, foreign.ID: false} {
		revoked, err := f.revocations.IsRevoked(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, want, revoked, id)
	}

	require.ErrorIs(t, f.svc.Logout(context.Background(), nil, ""), model.ErrInvalidCredentials)
}

func TestRevokeIgnoresUndecodableToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	require.NoError(t, f.svc.Revoke(context.Background(), "garbage"))
	require.Zero(t, f.revocations.Len())

	alice := f.user(t, "alice", "secret123", true)
	access, err := f.codec.IssueForUser(alice, model.TokenAccess)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(context.Background(), access.Token))
	require.Equal(t, 1, f.revocations.Len())
}

func validRegisterRequest() model.RegisterRequest {
	return model.RegisterRequest{
		Username:        "alice",
		Email:           "alice@x.com",
		FirstName:       "Alice",
		LastName:        "Liddell",
		Password:        "secret123",
		ConfirmPassword: "secret123",
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	f.store.On("ExistsByUsernameOrEmail", mock.Anything, "alice", "alice@x.com", uuid.Nil).Return(false, nil)
	f.store.On("Create", mock.Anything, mock.AnythingOfType("model.User")).Return(nil)

	user, err := f.svc.Register(context.Background(), validRegisterRequest())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, user.ID)
	require.True(t, user.IsActive)
	require.False(t, user.IsVerified)
	require.NotEqual(t, "secret123", user.PasswordHash)
	require.True(t, f.hasher.Verify("secret123", user.PasswordHash))

	f.store.AssertExpectations(t)
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	f.store.On("ExistsByUsernameOrEmail", mock.Anything, "alice", "alice@x.com", uuid.Nil).Return(true, nil)

	_, err := f.svc.Register(context.Background(), validRegisterRequest())

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.HTTPStatus)
	require.Equal(t, "Username or email already exists", apiErr.Message)
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegisterDuplicateRace(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	f.store.On("ExistsByUsernameOrEmail", mock.Anything, "alice", "alice@x.com", uuid.Nil).Return(false, nil)
	f.store.On("Create", mock.Anything, mock.Anything).Return(model.ErrUserAlreadyExists)

	_, err := f.svc.Register(context.Background(), validRegisterRequest())

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Username or email already exists", apiErr.Message)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*model.RegisterRequest){
		"short username":    func(r *model.RegisterRequest) { r.Username = "al" },
		"bad email":         func(r *model.RegisterRequest) { r.Email = "alice" },
		"short password":    func(r *model.RegisterRequest) { r.Password, r.ConfirmPassword = "short", "short" },
		"mismatch":          func(r *model.RegisterRequest) { r.ConfirmPassword = "secret124" },
		"missing last name": func(r *model.RegisterRequest) { r.LastName = "  " },
		"password over 72 bytes": func(r *model.RegisterRequest) {
			r.Password = strings.Repeat("a", 100)
			r.ConfirmPassword = r.Password
		},
		"multibyte password over 72 bytes": func(r *model.RegisterRequest) {
			r.Password = strings.Repeat("é", 40)
			r.ConfirmPassword = r.Password
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newAuthFixture(t, AuthOptions{})
			req := validRegisterRequest()
			mutate(&req)

			_, err := f.svc.Register(context.Background(), req)

			var apiErr *apierror.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, 400, apiErr.HTTPStatus)
			f.store.AssertNotCalled(t, "ExistsByUsernameOrEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)
	first := "Alicia"
	email := "alicia@x.com"

	f.store.On("ExistsByUsernameOrEmail", mock.Anything, "alice", email, alice.ID).Return(false, nil)
	f.store.On("UpdateProfile", mock.Anything, mock.MatchedBy(func(u model.User) bool {
		return u.FirstName == first && u.Email == email && u.ID == alice.ID
	})).Return(nil)

	updated, err := f.svc.UpdateProfile(context.Background(), alice, model.UpdateProfileRequest{FirstName: &first, Email: &email})
	require.NoError(t, err)
	require.Equal(t, first, updated.FirstName)
	require.Equal(t, email, updated.Email)
	f.store.AssertExpectations(t)
}

func TestUpdateProfileTrimsBeforeValidation(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)

	blank := "     "
	_, err := f.svc.UpdateProfile(context.Background(), alice, model.UpdateProfileRequest{Username: &blank})

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.HTTPStatus)
	f.store.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything)

	padded := "  bob  "
	f.store.On("ExistsByUsernameOrEmail", mock.Anything, "bob", alice.Email, alice.ID).Return(false, nil)
	f.store.On("UpdateProfile", mock.Anything, mock.MatchedBy(func(u model.User) bool {
		return u.Username == "bob"
	})).Return(nil)

	updated, err := f.svc.UpdateProfile(context.Background(), alice, model.UpdateProfileRequest{Username: &padded})
	require.NoError(t, err)
	require.Equal(t, "bob", updated.Username)
	require.Equal(t, "  bob  ", padded)
}

func TestUpdateProfileConflict(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)
	taken := "bob"

	f.store.On("ExistsByUsernameOrEmail", mock.Anything, taken, alice.Email, alice.ID).Return(true, nil)

	_, err := f.svc.UpdateProfile(context.Background(), alice, model.UpdateProfileRequest{Username: &taken})

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Username or email already in use", apiErr.Message)
	f.store.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)

	var stored string
	f.store.On("UpdatePassword", mock.Anything, alice.ID, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { stored = args.String(2) }).
		Return(nil)

	err := f.svc.ChangePassword(context.Background(), alice, model.PasswordUpdateRequest{
		CurrentPassword:    "secret123",
		NewPassword:        "better-secret",
		ConfirmNewPassword: "better-secret",
	})
	require.NoError(t, err)
	require.True(t, f.hasher.Verify("better-secret", stored))

	err = f.svc.ChangePassword(context.Background(), alice, model.PasswordUpdateRequest{
		CurrentPassword:    "wrong-one",
		NewPassword:        "better-secret",
		ConfirmNewPassword: "better-secret",
	})
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Current password is incorrect", apiErr.Message)
	f.store.AssertNumberOfCalls(t, "UpdatePassword", 1)
}

func TestChangePasswordRejectsOverlongPassword(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, AuthOptions{})
	alice := f.user(t, "alice", "secret123", true)
	long := strings.Repeat("x", 100)

	err := f.svc.ChangePassword(context.Background(), alice, model.PasswordUpdateRequest{
		CurrentPassword:    "secret123",
		NewPassword:        long,
		ConfirmNewPassword: long,
	})

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 400, apiErr.HTTPStatus)
	f.store.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
}
