package authclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestClient_LoginAndRefresh(t *testing.T) {
	_, client := newFakeAPI(t)
	ctx := context.Background()

	user, tokens, err := client.Login(ctx, "ops", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID == "" || user.Role != "admin" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.AccessExpiresAt.IsZero() {
		t.Fatalf("incomplete tokens: %+v", tokens)
	}

	next, err := client.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == tokens.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// The old token is now spent.
	if _, err := client.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a spent token, got %v", err)
	}
}

func TestClient_BadPasswordIsUnauthorized(t *testing.T) {
	_, client := newFakeAPI(t)

	_, _, err := client.Login(context.Background(), "ops", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "invalid_credentials" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized")
	}
}

func TestClient_RateLimitedCarriesRetryAfter(t *testing.T) {
	api, client := newFakeAPI(t)
	api.rejectStatus = http.StatusTooManyRequests

	_, err := client.Refresh(context.Background(), "anything")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter != 3*time.Second {
		t.Fatalf("expected Retry-After of 3s, got %+v", apiErr)
	}
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	api, client := newFakeAPI(t)
	api.rejectStatus = http.StatusBadGateway

	if _, err := client.Refresh(context.Background(), "anything"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
