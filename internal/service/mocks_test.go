package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"calculator-api/internal/model"
)

type mockCredentialStore struct {
	mock.Mock
}

func (m *mockCredentialStore) FindByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockCredentialStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (model.User, error) {
	args := m.Called(ctx, identifier)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *mockCredentialStore) ExistsByUsernameOrEmail(ctx context.Context, username string, email string, excludeID uuid.UUID) (bool, error) {
	args := m.Called(ctx, username, email, excludeID)
	return args.Bool(0), args.Error(1)
}

func (m *mockCredentialStore) Create(ctx context.Context, u model.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockCredentialStore) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *mockCredentialStore) UpdateProfile(ctx context.Context, u model.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockCredentialStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

// memoryUsers is a map-backed UserFinder.
type memoryUsers struct {
	users map[uuid.UUID]model.User
	err   error
	block bool
}

func (m *memoryUsers) FindByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	if m.block {
		<-ctx.Done()
		return model.User{}, ctx.Err()
	}
	if m.err != nil {
		return model.User{}, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

type panickingUsers struct{}

func (panickingUsers) FindByID(context.Context, uuid.UUID) (model.User, error) {
	panic("store exploded")
}

// trackingOpener counts acquired and released connections.
type trackingOpener struct {
	mu       sync.Mutex
	users    UserFinder
	openErr  error
	opened   int
	released int
}

func (o *trackingOpener) Open(context.Context) (UserFinder, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.openErr != nil {
		return nil, nil, o.openErr
	}
	o.opened++
	return o.users, func() {
		o.mu.Lock()
		o.released++
		o.mu.Unlock()
	}, nil
}

func (o *trackingOpener) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened, o.released
}
