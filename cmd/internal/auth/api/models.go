package authapi

import (
	"strings"
	"time"

	"panel/cmd/identity"
	"panel/cmd/internal/auth/session"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	RememberMe   bool   `json:"remember_me"`
	Platform     string `json:"platform"`
}

type userResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	DisplayName *string `json:"display_name"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CSRFToken        string    `json:"csrf_token,omitempty"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User      userResponse `json:"user"`
	SessionID string       `json:"session_id"`
}

func toUserResponse(u identity.User) userResponse {
	out := userResponse{
		ID:       u.ID,
		Username: u.Username,
		Role:     string(u.Role),
	}
	if dn := strings.TrimSpace(u.DisplayName); dn != "" {
		out.DisplayName = &dn
	}
	return out
}

func toSessionResponse(in session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        in.SessionID,
		AccessToken:      in.AccessToken,
		AccessExpiresAt:  in.AccessExp,
		RefreshToken:     in.RefreshToken,
		RefreshExpiresAt: in.RefreshExp,
	}
}
