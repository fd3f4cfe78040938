package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
)

// Admin is the operator account configured outside the users table.
type Admin struct {
	Username string
	PassHash string // bcrypt
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
	Role        string `json:"role"`
	Subject     string `json:"sub"`
}

// LoginHandler serves POST /auth/login {"username": "...", "password": "..."}.
func LoginHandler(a *AuthService, users UserStore, admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			apierr.Write(w, apierr.New(http.StatusBadRequest, apierr.CodeBadRequest, "username and password required"))
			return
		}
		denied := apierr.New(http.StatusUnauthorized, apierr.CodeUnauthorized, "invalid credentials")

		var sub, role string
		switch {
		case admin.Username != "" && req.Username == admin.Username:
			if bcrypt.CompareHashAndPassword([]byte(admin.PassHash), []byte(req.Password)) != nil {
				apierr.Write(w, denied)
				return
			}
			sub, role = admin.Username, "admin"
		case users != nil:
			u, err := users.FindByUsername(r.Context(), req.Username)
			if errors.Is(err, exam.ErrNotFound) {
				apierr.Write(w, denied)
				return
			}
			if err != nil {
				apierr.Write(w, err)
				return
			}
			if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
				apierr.Write(w, denied)
				return
			}
			sub, role = Subject(u.ID), u.Role
		default:
			apierr.Write(w, denied)
			return
		}

		tok, exp, err := a.IssueJWT(sub, role)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{
			AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp.Unix(), Role: role, Subject: sub,
		})
	}
}
