package model

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0), validation.By(maxBytes(MaxPasswordBytes))),
		validation.Field(&r.ConfirmPassword,
			validation.Required,
			validation.By(stringEquals(r.Password, "passwords do not match")),
		),
	)
}

type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

// Validate only checks presence so that a malformed password cannot be told
// apart from a wrong one.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UsernameOrEmail, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UpdateProfileRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// Normalize trims the supplied fields. It allocates new strings so the
// caller's values are left as they were.
func (r *UpdateProfileRequest) Normalize() {
	r.Username = trimmed(r.Username)
	r.Email = trimmed(r.Email)
	r.FirstName = trimmed(r.FirstName)
	r.LastName = trimmed(r.LastName)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.NilOrNotEmpty, validation.Length(3, 50)),
		validation.Field(&r.Email, validation.NilOrNotEmpty, is.Email),
		validation.Field(&r.FirstName, validation.NilOrNotEmpty, validation.Length(1, 50)),
		validation.Field(&r.LastName, validation.NilOrNotEmpty, validation.Length(1, 50)),
	)
}

func (r UpdateProfileRequest) Empty() bool {
	return r.Username == nil && r.Email == nil && r.FirstName == nil && r.LastName == nil
}

type PasswordUpdateRequest struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

func (r PasswordUpdateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.NewPassword,
			validation.Required,
			validation.Length(8, 0),
			validation.By(maxBytes(MaxPasswordBytes)),
			validation.By(stringDiffers(r.CurrentPassword, "new password must be different from current password")),
		),
		validation.Field(&r.ConfirmNewPassword,
			validation.Required,
			validation.By(stringEquals(r.NewPassword, "new password and confirmation do not match")),
		),
	)
}

func stringEquals(expected string, message string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != expected {
			return errors.New(message)
		}
		return nil
	}
}

// maxBytes limits the encoded length; validation.Length counts runes.
func maxBytes(limit int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > limit {
			return fmt.Errorf("must be at most %d bytes", limit)
		}
		return nil
	}
}

func stringDiffers(other string, message string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != "" && s == other {
			return errors.New(message)
		}
		return nil
	}
}

// Normalize trims surrounding whitespace from identity fields. Passwords are left untouched.
func (r *RegisterRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}
