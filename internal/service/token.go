package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/pkg/apperror"
)

// TokenPair — пара access/refresh токенов.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenManager выпускает и проверяет JWT.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenManager создаёт менеджер токенов.
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// GeneratePair выпускает пару токенов для пользователя.
func (m *TokenManager) GeneratePair(userID uuid.UUID) (*TokenPair, error) {
	access, err := m.sign(userID, m.accessSecret, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("token manager: access %w", err)
	}
	refresh, err := m.sign(userID, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("token manager: refresh %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}

func (m *TokenManager) sign(userID uuid.UUID, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseAccess проверяет access токен и возвращает идентификатор пользователя.
func (m *TokenManager) ParseAccess(token string) (uuid.UUID, error) {
	return m.parse(token, m.accessSecret)
}

// ParseRefresh проверяет refresh токен и возвращает идентификатор пользователя.
func (m *TokenManager) ParseRefresh(token string) (uuid.UUID, error) {
	return m.parse(token, m.refreshSecret)
}

func (m *TokenManager) parse(token string, secret []byte) (uuid.UUID, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, apperror.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, apperror.ErrUnauthorized
	}
	return userID, nil
}
