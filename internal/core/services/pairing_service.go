package services

import (
	"errors"
	"time"

	"proctorlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidPairingToken = errors.New("invalid pairing token")
	ErrExpiredPairingToken = errors.New("pairing token expired")
)

// PairingService issues and validates short-lived tokens that bind a
// secondary camera device to an existing proctoring session.
type PairingService interface {
	IssueToken(sessionID domain.SessionID) (string, time.Time, error)
	ValidateToken(tokenString string) (domain.SessionID, error)
}

type PairingClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

type pairingService struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewPairingService(secret string, tokenTTL time.Duration) PairingService {
	return &pairingService{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

func (s *pairingService) IssueToken(sessionID domain.SessionID) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &PairingClaims{
		SessionID: string(sessionID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *pairingService) ValidateToken(tokenString string) (domain.SessionID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PairingClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidPairingToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredPairingToken
		}
		return "", ErrInvalidPairingToken
	}

	claims, ok := token.Claims.(*PairingClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidPairingToken
	}
	if claims.SessionID == "" {
		return "", ErrInvalidPairingToken
	}
	return domain.SessionID(claims.SessionID), nil
}
