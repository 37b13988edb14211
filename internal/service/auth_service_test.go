package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
)

const testBotToken = "123456:TEST_BOT_TOKEN"

func testTokenManager() *TokenManager {
	return NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
}

// signInitData собирает initData с валидной подписью по схеме Telegram Web Apps.
func signInitData(botToken string, fields map[string]string) string {
	values := url.Values{}
	pairs := make([]string, 0, len(fields))
	for k, v := range fields {
		values.Set(k, v)
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))

	return values.Encode()
}

func freshInitData() string {
	return signInitData(testBotToken, map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		"user":      `{"id":987654321,"first_name":"Ирина","username":"irina_shoots"}`,
	})
}

func TestAuthService_AuthenticateTelegram_Success(t *testing.T) {
	userRepo := new(mockUserRepo)
	svc := NewAuthService(userRepo, testTokenManager(), testBotToken)
	ctx := context.Background()

	userID := uuid.New()
	username := "irina_shoots"
	userRepo.On("UpsertTelegram", ctx, int64(987654321), "Ирина", &username).
		Return(&models.User{ID: userID, TelegramID: 987654321, FirstName: "Ирина", IsActive: true}, nil)

	user, pair, err := svc.AuthenticateTelegram(ctx, freshInitData())

	assert.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	parsedID, err := testTokenManager().ParseAccess(pair.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, userID, parsedID)
}

func TestAuthService_AuthenticateTelegram_TamperedHash(t *testing.T) {
	userRepo := new(mockUserRepo)
	svc := NewAuthService(userRepo, testTokenManager(), testBotToken)

	initData := freshInitData()
	values, _ := url.ParseQuery(initData)
	values.Set("user", `{"id":111,"first_name":"Злоумышленник"}`)

	_, _, err := svc.AuthenticateTelegram(context.Background(), values.Encode())

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeUnauthorized, apperror.CodeOf(err))
	userRepo.AssertNotCalled(t, "UpsertTelegram")
}

func TestAuthService_AuthenticateTelegram_WrongBotToken(t *testing.T) {
	userRepo := new(mockUserRepo)
	svc := NewAuthService(userRepo, testTokenManager(), testBotToken)

	initData := signInitData("999999:OTHER_BOT", map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		"user":      `{"id":987654321,"first_name":"Ирина"}`,
	})

	_, _, err := svc.AuthenticateTelegram(context.Background(), initData)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeUnauthorized, apperror.CodeOf(err))
}

func TestAuthService_AuthenticateTelegram_StaleAuthDate(t *testing.T) {
	userRepo := new(mockUserRepo)
	svc := NewAuthService(userRepo, testTokenManager(), testBotToken)

	initData := signInitData(testBotToken, map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Add(-48*time.Hour).Unix(), 10),
		"user":      `{"id":987654321,"first_name":"Ирина"}`,
	})

	_, _, err := svc.AuthenticateTelegram(context.Background(), initData)

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeUnauthorized, apperror.CodeOf(err))
	userRepo.AssertNotCalled(t, "UpsertTelegram")
}

func TestAuthService_AuthenticateTelegram_BlockedUser(t *testing.T) {
	userRepo := new(mockUserRepo)
	svc := NewAuthService(userRepo, testTokenManager(), testBotToken)
	ctx := context.Background()

	userRepo.On("UpsertTelegram", ctx, int64(987654321), "Ирина", mock.Anything).
		Return(&models.User{ID: uuid.New(), TelegramID: 987654321, IsActive: false}, nil)

	_, _, err := svc.AuthenticateTelegram(ctx, freshInitData())

	assert.Error(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, apperror.CodeOf(err))
}

func TestAuthService_Refresh_Success(t *testing.T) {
	userRepo := new(mockUserRepo)
	tokens := testTokenManager()
	svc := NewAuthService(userRepo, tokens, testBotToken)
	ctx := context.Background()

	userID := uuid.New()
	pair, err := tokens.GeneratePair(userID)
	assert.NoError(t, err)

	userRepo.On("GetByID", ctx, userID).Return(&models.User{ID: userID, IsActive: true}, nil)

	fresh, err := svc.Refresh(ctx, pair.RefreshToken)

	assert.NoError(t, err)
	assert.NotEmpty(t, fresh.AccessToken)
}

func TestAuthService_Refresh_AccessTokenRejected(t *testing.T) {
	tokens := testTokenManager()
	svc := NewAuthService(new(mockUserRepo), tokens, testBotToken)

	pair, err := tokens.GeneratePair(uuid.New())
	assert.NoError(t, err)

	// Access токен подписан другим секретом и не годится как refresh.
	_, err = svc.Refresh(context.Background(), pair.AccessToken)

	assert.Error(t, err)
}
