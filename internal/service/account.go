package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"calculator-api/internal/model"
	"calculator-api/pkg/apierror"
)

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return model.User{}, apierror.BadRequest("validation failed", err.Error())
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, req.Username, req.Email, uuid.Nil)
	if err != nil {
		return model.User{}, err
	}
	if exists {
		return model.User{}, errDuplicateIdentity()
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.User{}, err
	}

	now := s.now().UTC()
	user := model.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		IsActive:     true,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrUserAlreadyExists) {
			return model.User{}, errDuplicateIdentity()
		}
		return model.User{}, err
	}

	return user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, user model.User, req model.UpdateProfileRequest) (model.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return model.User{}, apierror.BadRequest("validation failed", err.Error())
	}
	if req.Empty() {
		return user, nil
	}

	updated := user
	if req.Username != nil {
		updated.Username = *req.Username
	}
	if req.Email != nil {
		updated.Email = *req.Email
	}
	if req.FirstName != nil {
		updated.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		updated.LastName = *req.LastName
	}

	if updated.Username != user.Username || updated.Email != user.Email {
		exists, err := s.users.ExistsByUsernameOrEmail(ctx, updated.Username, updated.Email, user.ID)
		if err != nil {
			return model.User{}, err
		}
		if exists {
			return model.User{}, apierror.BadRequest("Username or email already in use", "")
		}
	}

	updated.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateProfile(ctx, updated); err != nil {
		if errors.Is(err, model.ErrUserAlreadyExists) {
			return model.User{}, apierror.BadRequest("Username or email already in use", "")
		}
		return model.User{}, err
	}

	return updated, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, user model.User, req model.PasswordUpdateRequest) error {
	if err := req.Validate(); err != nil {
		return apierror.BadRequest("validation failed", err.Error())
	}

	if !s.hasher.Verify(req.CurrentPassword, user.PasswordHash) {
		return apierror.BadRequest("Current password is incorrect", "")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}

	return s.users.UpdatePassword(ctx, user.ID, hash)
}

func errDuplicateIdentity() error {
	return apierror.BadRequest("Username or email already exists", "")
}
