package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
)

// Свежесть initData: Telegram подписывает auth_date, старые подписи не принимаем.
const initDataMaxAge = 24 * time.Hour

// AuthService аутентифицирует пользователей Telegram Mini App.
// Пароля нет: личность подтверждает подпись initData ботовским токеном.
type AuthService struct {
	users    UserRepo
	tokens   *TokenManager
	botToken string
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(users UserRepo, tokens *TokenManager, botToken string) *AuthService {
	return &AuthService{users: users, tokens: tokens, botToken: botToken}
}

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// AuthenticateTelegram проверяет initData из Mini App и выдаёт пару токенов.
// Пользователь создаётся при первом входе.
func (s *AuthService) AuthenticateTelegram(ctx context.Context, initData string) (*models.User, *TokenPair, error) {
	tgUser, err := s.verifyInitData(initData)
	if err != nil {
		logger.Log.Warnf("auth: отклонена initData: %v", err)
		return nil, nil, apperror.New(apperror.ErrCodeUnauthorized, "подпись Telegram не прошла проверку")
	}

	var username *string
	if tgUser.Username != "" {
		username = &tgUser.Username
	}
	user, err := s.users.UpsertTelegram(ctx, tgUser.ID, tgUser.FirstName, username)
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить пользователя")
	}
	if !user.IsActive {
		return nil, nil, apperror.New(apperror.ErrCodeForbidden, "аккаунт заблокирован")
	}

	pair, err := s.tokens.GeneratePair(user.ID)
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось выпустить токены")
	}
	return user, pair, nil
}

// Refresh обменивает refresh токен на новую пару.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}
	if !user.IsActive {
		return nil, apperror.New(apperror.ErrCodeForbidden, "аккаунт заблокирован")
	}
	return s.tokens.GeneratePair(user.ID)
}

// verifyInitData проверяет подпись initData по схеме Telegram Web Apps:
// secret = HMAC_SHA256("WebAppData", botToken),
// hash = hex(HMAC_SHA256(secret, data_check_string)).
func (s *AuthService) verifyInitData(initData string) (*telegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("некорректная строка initData: %w", err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, fmt.Errorf("hash отсутствует")
	}

	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(s.botToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	wantHash := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(wantHash), []byte(gotHash)) {
		return nil, fmt.Errorf("подпись не совпадает")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректный auth_date")
	}
	if time.Since(time.Unix(authDate, 0)) > initDataMaxAge {
		return nil, fmt.Errorf("initData устарела")
	}

	var tgUser telegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &tgUser); err != nil {
		return nil, fmt.Errorf("некорректное поле user: %w", err)
	}
	if tgUser.ID == 0 {
		return nil, fmt.Errorf("пустой telegram id")
	}
	return &tgUser, nil
}
