package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
)

// ProfileService — профиль пользователя: кошелёк, режим исполнителя, онбординг.
type ProfileService struct {
	users  UserRepo
	ledger Ledger
}

// NewProfileService создаёт сервис профиля.
func NewProfileService(users UserRepo, ledger Ledger) *ProfileService {
	return &ProfileService{users: users, ledger: ledger}
}

// GetProfile возвращает профиль пользователя.
func (s *ProfileService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить профиль")
	}
	return user, nil
}

// ConnectWallet сохраняет адрес TON кошелька после структурной проверки.
func (s *ProfileService) ConnectWallet(ctx context.Context, userID uuid.UUID, walletAddress string) (*models.User, error) {
	if !s.ledger.ValidateAddress(walletAddress) {
		return nil, apperror.New(apperror.ErrCodeInvalidWallet, "некорректный адрес TON кошелька")
	}
	if err := s.users.UpdateWallet(ctx, userID, walletAddress); err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить кошелёк")
	}
	return s.GetProfile(ctx, userID)
}

// BecomeProvider включает режим исполнителя. Для приёма заказов
// исполнителю нужен подключённый кошелёк.
func (s *ProfileService) BecomeProvider(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasWallet() {
		return nil, apperror.New(apperror.ErrCodeWalletRequired, "подключите кошелёк, чтобы стать исполнителем")
	}
	if err := s.users.SetProvider(ctx, userID, true); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось включить режим исполнителя")
	}
	return s.GetProfile(ctx, userID)
}

// CompleteOnboarding отмечает онбординг пройденным.
func (s *ProfileService) CompleteOnboarding(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetOnboarded(ctx, userID); err != nil {
		if err == repository.ErrUserNotFound {
			return apperror.ErrUserNotFound
		}
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось завершить онбординг")
	}
	return nil
}
