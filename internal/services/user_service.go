package services

import (
	"context"
	"errors"

	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/pkg/models"
)

// Identity is the verified subject of a request.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// UserService provisions users from identity provider logins.
type UserService struct {
	users  repository.UserStore
	logger *logging.Logger
}

// NewUserService creates a new UserService.
func NewUserService(users repository.UserStore, logger *logging.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// Sync returns the user for id, creating it with the initial credit grant on
// first sight.
func (s *UserService) Sync(ctx context.Context, id Identity) (*models.User, error) {
	if id.Subject == "" {
		return nil, invalid("identity has no subject")
	}
	user, err := s.users.GetUser(ctx, id.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, &PersistenceError{Op: "load user", Err: err}
	}

	user = &models.User{
		ID:      id.Subject,
		Email:   id.Email,
		Name:    id.Name,
		Credits: models.InitialCredits,
		Tier:    models.TierFree,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// A concurrent first request may have created it.
		if existing, getErr := s.users.GetUser(ctx, id.Subject); getErr == nil {
			return existing, nil
		}
		return nil, &PersistenceError{Op: "create user", Err: err}
	}

	s.logger.Info("user provisioned", "user_id", user.ID, "email", user.Email)
	return user, nil
}
