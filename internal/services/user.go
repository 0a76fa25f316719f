package services

import (
	"context"
	"time"

	"github.com/trailhead-tours/apiserver/internal/events"
	"github.com/trailhead-tours/apiserver/types"
)

// passwordChangeSkew backdates password mutations slightly so that a
// session token issued in the same instant as the change is still
// rejected only if it predates the change.
const passwordChangeSkew = time.Second

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByResetToken(ctx context.Context, tokenHash string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, id int, name, email string) (types.User, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string, changedAt time.Time) error
	SetPasswordReset(ctx context.Context, id int, tokenHash string, expires time.Time) error
	ClearPasswordReset(ctx context.Context, id int) error
	SetPhoto(ctx context.Context, id int, key string) error
	Deactivate(ctx context.Context, id int) error
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
	bus  *events.Bus
}

func NewUserService(repo UserRepository, bus *events.Bus) *UserService {
	return &UserService{repo: repo, bus: bus}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *UserService) GetByResetToken(ctx context.Context, tokenHash string) (types.User, error) {
	return s.repo.GetByResetToken(ctx, tokenHash)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return types.User{}, err
	}
	if s.bus != nil {
		s.bus.UserSignedUp(ctx, created)
	}
	return created, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id int, name, email string) (types.User, error) {
	return s.repo.UpdateProfile(ctx, id, name, email)
}

// SetPassword stores the new password hash and stamps the change time,
// backdated by the skew. Any outstanding reset token is cleared by the
// same write.
func (s *UserService) SetPassword(ctx context.Context, id int, passwordHash string) error {
	changedAt := time.Now().Add(-passwordChangeSkew)
	return s.repo.UpdatePassword(ctx, id, passwordHash, changedAt)
}

func (s *UserService) SetPasswordReset(ctx context.Context, id int, tokenHash string, expires time.Time) error {
	return s.repo.SetPasswordReset(ctx, id, tokenHash, expires)
}

func (s *UserService) ClearPasswordReset(ctx context.Context, id int) error {
	return s.repo.ClearPasswordReset(ctx, id)
}

func (s *UserService) SetPhoto(ctx context.Context, id int, key string) error {
	return s.repo.SetPhoto(ctx, id, key)
}

func (s *UserService) Deactivate(ctx context.Context, id int) error {
	return s.repo.Deactivate(ctx, id)
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	return s.repo.List(ctx, offset, limit)
}
