package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/models"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/secrets"
)

type userStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, id, name string, profilePicture *string) error
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	UpdateAppPassword(ctx context.Context, id string, sealed *string) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	RecordLogin(ctx context.Context, id string, ip, device *string) error
}

// UpdateProfileInput is the payload for profile changes.
type UpdateProfileInput struct {
	Name           string  `json:"name" validate:"required,max=120"`
	ProfilePicture *string `json:"profile_picture" validate:"omitempty,url"`
}

// UserService manages accounts, roles, suspension and the sealed Gmail app
// password. Encryption is explicit: the app password is sealed here before it
// reaches the store and unsealed here for the mail relay only.
type UserService struct {
	users     userStore
	encryptor *secrets.Encryptor
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewUserService builds the service. A nil encryptor disables app password
// storage rather than falling back to plaintext.
func NewUserService(users userStore, encryptor *secrets.Encryptor, logger *zap.Logger) *UserService {
	return &UserService{
		users:     users,
		encryptor: encryptor,
		validate:  validator.New(),
		logger:    logger,
	}
}

// GetByID loads one account.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to load user")
	}
	return user, nil
}

// GetByEmail loads one account by email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to load user")
	}
	return user, nil
}

// UpdateProfile changes the display name and optionally the picture.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*models.User, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, validationMessage(err))
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := s.users.UpdateProfile(ctx, id, input.Name, input.ProfilePicture); err != nil {
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to update profile")
	}
	return s.GetByID(ctx, id)
}

// ChangeRole assigns a new dashboard role. Role values outside the closed set
// are rejected before touching the store.
func (s *UserService) ChangeRole(ctx context.Context, id string, role models.UserRole) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to change role")
	}
	s.logger.Info("user role changed",
		zap.String("user_id", id),
		zap.String("from", string(user.Role)),
		zap.String("to", string(role)))
	user.Role = role
	return user, nil
}

// Suspend blocks the account. A suspended owner's keys stay intact but stop
// validating until reactivation.
func (s *UserService) Suspend(ctx context.Context, id string) (*models.User, error) {
	return s.setStatus(ctx, id, models.UserStatusSuspended)
}

// Reactivate lifts a suspension.
func (s *UserService) Reactivate(ctx context.Context, id string) (*models.User, error) {
	return s.setStatus(ctx, id, models.UserStatusActive)
}

func (s *UserService) setStatus(ctx context.Context, id string, status models.UserStatus) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Status == status {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account is already "+strings.ToLower(string(status)))
	}
	if err := s.users.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to update account status")
	}
	s.logger.Info("user status changed",
		zap.String("user_id", id), zap.String("status", string(status)))
	user.Status = status
	return user, nil
}

// List returns accounts matching the filter for the admin dashboard.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to list users")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// appPasswordLength is Google's fixed app password length. Google renders the
// password in spaced groups of four, so spaces are stripped before checking.
const appPasswordLength = 16

// SetAppPassword seals the Gmail app password and stores the ciphertext.
// The plaintext never reaches the repository layer.
func (s *UserService) SetAppPassword(ctx context.Context, id, plaintext string) error {
	if s.encryptor == nil {
		return appErrors.ErrEncryptionDisabled
	}
	plaintext = strings.ReplaceAll(strings.TrimSpace(plaintext), " ", "")
	if plaintext == "" {
		return appErrors.Clone(appErrors.ErrValidation, "app password is required")
	}
	if len(plaintext) != appPasswordLength {
		return appErrors.Clone(appErrors.ErrValidation, "app password must be exactly 16 characters")
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	sealed, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return appErrors.Wrap(err, "ENCRYPTION_FAILED", 500, "failed to seal app password")
	}
	if err := s.users.UpdateAppPassword(ctx, id, &sealed); err != nil {
		return appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to store app password")
	}
	s.logger.Info("app password updated", zap.String("user_id", id))
	return nil
}

// RemoveAppPassword clears the sealed credential.
func (s *UserService) RemoveAppPassword(ctx context.Context, id string) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.users.UpdateAppPassword(ctx, id, nil); err != nil {
		return appErrors.Wrap(err, "DATABASE_ERROR", 500, "failed to remove app password")
	}
	s.logger.Info("app password removed", zap.String("user_id", id))
	return nil
}

// AppPassword unseals the stored credential for the mail relay. Returns a
// validation error when no password is on file.
func (s *UserService) AppPassword(ctx context.Context, id string) (string, error) {
	if s.encryptor == nil {
		return "", appErrors.ErrEncryptionDisabled
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user.EncryptedAppPassword == nil || *user.EncryptedAppPassword == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "no app password on file")
	}
	plaintext, err := s.encryptor.Decrypt(*user.EncryptedAppPassword)
	if err != nil {
		return "", appErrors.Wrap(err, "DECRYPTION_FAILED", 500, "failed to unseal app password")
	}
	return plaintext, nil
}

// RecordLogin stores the last seen IP and device for an account. Failures are
// logged and swallowed so login flows never break on bookkeeping.
func (s *UserService) RecordLogin(ctx context.Context, id string, ip, device *string) {
	if err := s.users.RecordLogin(ctx, id, ip, device); err != nil {
		s.logger.Warn("failed to record login",
			zap.String("user_id", id), zap.Error(err))
	}
}
