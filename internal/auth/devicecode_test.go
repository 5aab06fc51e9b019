package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/env-architect/architect/pkg/models"
)

type fakeDeviceFlowStore struct {
	mu            sync.Mutex
	byDeviceCode  map[string]*models.DeviceCode
	byUserCode    map[string]*models.DeviceCode
	refreshTokens map[string]*models.RefreshToken
}

func newFakeDeviceFlowStore() *fakeDeviceFlowStore {
	return &fakeDeviceFlowStore{
		byDeviceCode:  make(map[string]*models.DeviceCode),
		byUserCode:    make(map[string]*models.DeviceCode),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (s *fakeDeviceFlowStore) CreateDeviceCode(ctx context.Context, d *models.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.byDeviceCode[d.DeviceCode] = &cp
	s.byUserCode[d.UserCode] = &cp
	return nil
}

func (s *fakeDeviceFlowStore) GetDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byDeviceCode[deviceCode]
	if !ok {
		return nil, ErrDeviceCodeExpired
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDeviceFlowStore) BindUserCode(ctx context.Context, userCode, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byUserCode[userCode]
	if !ok {
		return ErrDeviceCodeExpired
	}
	d.UserID = userID
	d.Bound = true
	s.byDeviceCode[d.DeviceCode] = d
	s.byUserCode[userCode] = d
	return nil
}

func (s *fakeDeviceFlowStore) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt.ID = rt.LookupSHA[:8]
	cp := *rt
	s.refreshTokens[rt.LookupSHA] = &cp
	return nil
}

func (s *fakeDeviceFlowStore) FindRefreshTokenByLookupHash(ctx context.Context, lookupSHA string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[lookupSHA]
	if !ok {
		return nil, nil
	}
	cp := *rt
	return &cp, nil
}

func (s *fakeDeviceFlowStore) RevokeRefreshToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.refreshTokens {
		if rt.ID == id {
			rt.Revoked = true
		}
	}
	return nil
}

func newTestDeviceFlow() *DeviceFlow {
	return &DeviceFlow{
		Store:           newFakeDeviceFlowStore(),
		JWT:             NewJWTService("test-secret", time.Hour),
		VerificationURI: "https://example.test/device",
	}
}

func TestStartDeviceAuthorizationFormat(t *testing.T) {
	flow := newTestDeviceFlow()
	d, err := flow.StartDeviceAuthorization(context.Background())
	if err != nil {
		t.Fatalf("StartDeviceAuthorization: %v", err)
	}

	if d.DeviceCode == "" {
		t.Fatal("expected a non-empty device code")
	}
	if len(d.UserCode) != 9 || d.UserCode[4] != '-' {
		t.Fatalf("expected an XXXX-XXXX user code, got %q", d.UserCode)
	}
	for _, r := range strings.ReplaceAll(d.UserCode, "-", "") {
		if !strings.ContainsRune(userCodeAlphabet, r) {
			t.Fatalf("user code contains ambiguous or unexpected character %q", r)
		}
	}
	if d.Bound {
		t.Fatal("expected a freshly started device code to be unbound")
	}
	if d.Interval != devicePollInterval {
		t.Fatalf("expected interval %d, got %d", devicePollInterval, d.Interval)
	}
}

func TestPollTokenPendingUntilBound(t *testing.T) {
	flow := newTestDeviceFlow()
	d, err := flow.StartDeviceAuthorization(context.Background())
	if err != nil {
		t.Fatalf("StartDeviceAuthorization: %v", err)
	}

	if _, err := flow.PollToken(context.Background(), d.DeviceCode); err != ErrAuthorizationPending {
		t.Fatalf("expected ErrAuthorizationPending, got %v", err)
	}

	if err := flow.BindUserCode(context.Background(), d.UserCode, "user-42"); err != nil {
		t.Fatalf("BindUserCode: %v", err)
	}

	resp, err := flow.PollToken(context.Background(), d.DeviceCode)
	if err != nil {
		t.Fatalf("PollToken after bind: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}
	if len(resp.RefreshToken) != 64 {
		t.Fatalf("expected a 64-character refresh token, got %d characters", len(resp.RefreshToken))
	}
	if resp.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %q", resp.TokenType)
	}
	if resp.ExpiresIn != int(accessTokenTTL.Seconds()) {
		t.Fatalf("expected expires_in %d, got %d", int(accessTokenTTL.Seconds()), resp.ExpiresIn)
	}

	user, err := flow.JWT.Validate(resp.AccessToken)
	if err != nil {
		t.Fatalf("Validate access token: %v", err)
	}
	if user.ID != "user-42" {
		t.Fatalf("expected subject user-42, got %q", user.ID)
	}
}

func TestPollTokenExpired(t *testing.T) {
	flow := newTestDeviceFlow()
	store := flow.Store.(*fakeDeviceFlowStore)

	d := &models.DeviceCode{
		DeviceCode:      "expired-code",
		UserCode:        "AAAA-BBBB",
		VerificationURI: flow.VerificationURI,
		ExpiresAt:       time.Now().Add(-time.Minute),
		CreatedAt:       time.Now().Add(-time.Hour),
	}
	if err := store.CreateDeviceCode(context.Background(), d); err != nil {
		t.Fatalf("CreateDeviceCode: %v", err)
	}

	if _, err := flow.PollToken(context.Background(), "expired-code"); err != ErrDeviceCodeExpired {
		t.Fatalf("expected ErrDeviceCodeExpired, got %v", err)
	}
}

func TestRefreshAccessTokenRoundTrip(t *testing.T) {
	flow := newTestDeviceFlow()
	d, err := flow.StartDeviceAuthorization(context.Background())
	if err != nil {
		t.Fatalf("StartDeviceAuthorization: %v", err)
	}
	if err := flow.BindUserCode(context.Background(), d.UserCode, "user-7"); err != nil {
		t.Fatalf("BindUserCode: %v", err)
	}
	first, err := flow.PollToken(context.Background(), d.DeviceCode)
	if err != nil {
		t.Fatalf("PollToken: %v", err)
	}

	refreshed, err := flow.RefreshAccessToken(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if refreshed.RefreshToken != first.RefreshToken {
		t.Fatal("expected RefreshAccessToken not to rotate the refresh token")
	}

	user, err := flow.JWT.Validate(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("Validate refreshed access token: %v", err)
	}
	if user.ID != "user-7" {
		t.Fatalf("expected subject user-7, got %q", user.ID)
	}
}

func TestRefreshAccessTokenRejectsUnknownToken(t *testing.T) {
	flow := newTestDeviceFlow()
	if _, err := flow.RefreshAccessToken(context.Background(), "not-a-real-token"); err != ErrRefreshTokenInvalid {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestRefreshAccessTokenRejectsRevokedToken(t *testing.T) {
	flow := newTestDeviceFlow()
	d, err := flow.StartDeviceAuthorization(context.Background())
	if err != nil {
		t.Fatalf("StartDeviceAuthorization: %v", err)
	}
	if err := flow.BindUserCode(context.Background(), d.UserCode, "user-9"); err != nil {
		t.Fatalf("BindUserCode: %v", err)
	}
	tok, err := flow.PollToken(context.Background(), d.DeviceCode)
	if err != nil {
		t.Fatalf("PollToken: %v", err)
	}

	store := flow.Store.(*fakeDeviceFlowStore)
	store.mu.Lock()
	for _, rt := range store.refreshTokens {
		rt.Revoked = true
	}
	store.mu.Unlock()

	if _, err := flow.RefreshAccessToken(context.Background(), tok.RefreshToken); err != ErrRefreshTokenInvalid {
		t.Fatalf("expected ErrRefreshTokenInvalid for a revoked token, got %v", err)
	}
}
