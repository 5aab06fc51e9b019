package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/pkg/models"
)

var (
	ErrDeviceCodeExpired    = errors.New("device code expired")
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrRefreshTokenInvalid  = errors.New("invalid refresh token")
)

const (
	deviceCodeTTL      = 15 * time.Minute
	devicePollInterval = 5 // seconds
	refreshTokenTTL    = 30 * 24 * time.Hour
	accessTokenTTL     = 1 * time.Hour
	refreshTokenBytes  = 48 // base64url-encodes to exactly 64 chars
)

// userCodeAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const userCodeAlphabet = "BCDFGHJKMNPQRSTVWXZ23456789"

// DeviceFlowStore persists device-authorization grants and refresh tokens
// (spec §4.13).
type DeviceFlowStore interface {
	CreateDeviceCode(ctx context.Context, d *models.DeviceCode) error
	GetDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceCode, error)
	BindUserCode(ctx context.Context, userCode, userID string) error
	CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	FindRefreshTokenByLookupHash(ctx context.Context, lookupSHA string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
}

// DeviceFlow implements the server side of the OAuth device-authorization
// grant (spec §4.13): the CLI-facing UX itself is out of scope, but the
// token endpoint and authorization-binding operations it calls are not.
type DeviceFlow struct {
	Store           DeviceFlowStore
	JWT             *JWTService
	VerificationURI string
}

// TokenResponse is what the polling token endpoint returns once a device
// code is bound to a user.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// StartDeviceAuthorization issues a new (device_code, user_code) pair.
func (f *DeviceFlow) StartDeviceAuthorization(ctx context.Context) (*models.DeviceCode, error) {
	deviceCode, err := randomURLToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate device code: %w", err)
	}
	userCode, err := randomUserCode()
	if err != nil {
		return nil, fmt.Errorf("generate user code: %w", err)
	}

	now := time.Now()
	d := &models.DeviceCode{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURI: f.VerificationURI,
		Interval:        devicePollInterval,
		ExpiresAt:       now.Add(deviceCodeTTL),
		CreatedAt:       now,
	}
	if err := f.Store.CreateDeviceCode(ctx, d); err != nil {
		return nil, fmt.Errorf("create device code: %w", err)
	}
	return d, nil
}

// BindUserCode binds userID to userCode, called once a portal session
// authenticates the user entering the code. Building that portal session
// is out of scope; this method is what it would call.
func (f *DeviceFlow) BindUserCode(ctx context.Context, userCode, userID string) error {
	return f.Store.BindUserCode(ctx, userCode, userID)
}

// PollToken implements the device-flow token endpoint: ErrAuthorizationPending
// until BindUserCode has been called for this device code's user code, at
// which point it mints an access token and refresh token.
func (f *DeviceFlow) PollToken(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	d, err := f.Store.GetDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, err
	}
	if time.Now().After(d.ExpiresAt) {
		return nil, ErrDeviceCodeExpired
	}
	if !d.Bound || d.UserID == "" {
		return nil, ErrAuthorizationPending
	}

	return f.issueTokens(ctx, d.UserID)
}

// RefreshAccessToken exchanges a still-valid refresh token for a fresh
// access token, without rotating the refresh token itself.
func (f *DeviceFlow) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	lookup := cryptoutil.SHA256Hex([]byte(refreshToken))
	rt, err := f.Store.FindRefreshTokenByLookupHash(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if rt == nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		return nil, ErrRefreshTokenInvalid
	}

	access, err := f.JWT.Generate(&models.User{ID: rt.UserID})
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
	}, nil
}

func (f *DeviceFlow) issueTokens(ctx context.Context, userID string) (*TokenResponse, error) {
	access, err := f.JWT.Generate(&models.User{ID: userID})
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refresh, err := randomURLToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := time.Now()
	if err := f.Store.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    userID,
		LookupSHA: cryptoutil.SHA256Hex([]byte(refresh)),
		ExpiresAt: now.Add(refreshTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessTokenTTL.Seconds()),
		RefreshToken: refresh,
	}, nil
}

func randomURLToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 8)
	for i, b := range buf {
		code[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}
