package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const refreshCookie = "refresh_token"

type api struct {
	engine *authcore.Engine
	logger *zap.Logger
}

type credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code,omitempty"`
	BackupCode string `json:"backup_code,omitempty"`
}

type tokenResponse struct {
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	EmailVerified   bool      `json:"email_verified"`
}

func (a *api) routes(r *mux.Router) {
	r.Use(middleware.ClientContext)

	r.HandleFunc("/auth/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", a.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email/link", a.handleVerifyLink).Methods(http.MethodGet)
	r.HandleFunc("/auth/verify-email/resend", a.handleResend).Methods(http.MethodPost)

	authed := r.PathPrefix("/auth").Subrouter()
	authed.Use(middleware.RequireAccess(a.engine), middleware.TrackActivity(a.engine))
	authed.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/logout-all", a.handleLogoutAll).Methods(http.MethodPost)
	authed.HandleFunc("/me", a.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/verify-email", a.handleVerifyCode).Methods(http.MethodPost)
	authed.HandleFunc("/sessions", a.handleListSessions).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}", a.handleRevokeSession).Methods(http.MethodDelete)
	authed.HandleFunc("/2fa/enable", a.handleEnableTwoFactor).Methods(http.MethodPost)
	authed.HandleFunc("/2fa/verify", a.handleVerifyTwoFactor).Methods(http.MethodPost)
	authed.HandleFunc("/2fa/disable", a.handleDisableTwoFactor).Methods(http.MethodPost)
	authed.HandleFunc("/2fa/backup-codes", a.handleBackupCodes).Methods(http.MethodPost)
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.Register(r.Context(), authcore.RegisterRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		a.writeError(w, err)
		return
	}
	setRefreshCookie(w, r, res.Tokens)
	writeJSON(w, http.StatusCreated, tokenResponse{
		UserID:          res.UserID,
		SessionID:       res.SessionID,
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt,
		EmailVerified:   res.EmailVerified,
	})
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.Login(r.Context(), authcore.LoginRequest{
		Email:      body.Email,
		Password:   body.Password,
		TOTPCode:   body.TOTPCode,
		BackupCode: body.BackupCode,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	setRefreshCookie(w, r, res.Tokens)
	writeJSON(w, http.StatusOK, tokenResponse{
		UserID:          res.UserID,
		SessionID:       res.SessionID,
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt,
		EmailVerified:   res.EmailVerified,
	})
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "missing refresh token", http.StatusUnauthorized)
		return
	}
	res, err := a.engine.Refresh(r.Context(), cookie.Value)
	if err != nil {
		a.writeError(w, err)
		return
	}
	setRefreshCookie(w, r, res.Tokens)
	writeJSON(w, http.StatusOK, tokenResponse{
		UserID:          res.UserID,
		SessionID:       res.SessionID,
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt,
	})
}

// handleLogout still revokes the bearer token when the refresh cookie is
// missing or stale, then reports the bad cookie.
func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	var refresh string
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		refresh = cookie.Value
	}
	access, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	err := a.engine.Logout(r.Context(), access, refresh)
	clearRefreshCookie(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	n, err := a.engine.LogoutAll(r.Context(), access)
	if err != nil {
		a.writeError(w, err)
		return
	}
	clearRefreshCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]int{"revoked_sessions": n})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.AccessFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        info.UserID,
		"email":          info.Email,
		"email_verified": info.EmailVerified,
		"expires_at":     info.ExpiresAt,
	})
}

func (a *api) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	info, _ := middleware.AccessFromContext(r.Context())
	if err := a.engine.ConfirmEmail(r.Context(), info.UserID, body.Code); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	userID, err := a.engine.ConfirmEmailLink(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

func (a *api) handleResend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	state, err := a.engine.RequestEmailVerification(r.Context(), body.Email)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"destination":         state.MaskedDestination,
		"expires_at":          state.ExpiresAt,
		"resend_available_at": state.ResendAvailableAt,
	})
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.AccessFromContext(r.Context())
	sessions, err := a.engine.ListSessions(r.Context(), info.UserID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]any{
			"id":             s.ID,
			"browser":        s.Browser,
			"os":             s.OS,
			"device":         s.DeviceKind,
			"ip":             s.IPAddress,
			"created_at":     s.CreatedAt,
			"last_active_at": s.LastActiveAt,
			"expires_at":     s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.AccessFromContext(r.Context())
	if err := a.engine.RevokeSession(r.Context(), info.UserID, mux.Vars(r)["id"]); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	info, _ := middleware.AccessFromContext(r.Context())
	setup, err := a.engine.EnableTwoFactor(r.Context(), info.UserID, body.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":           setup.SecretBase32,
		"provisioning_uri": setup.ProvisioningURI,
		"qr_code_png":      setup.QRCodePNG,
		"backup_codes":     setup.BackupCodes,
	})
}

func (a *api) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	info, _ := middleware.AccessFromContext(r.Context())
	if err := a.engine.VerifyTwoFactorSetup(r.Context(), info.UserID, body.Code); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	info, _ := middleware.AccessFromContext(r.Context())
	if err := a.engine.DisableTwoFactor(r.Context(), info.UserID, body.Password, body.Code); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	info, _ := middleware.AccessFromContext(r.Context())
	codes, err := a.engine.RegenerateBackupCodes(r.Context(), info.UserID, body.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

// writeError maps engine errors to status codes. Unknown errors are
// logged and reported as 500 without detail.
func (a *api) writeError(w http.ResponseWriter, err error) {
	var locked *authcore.LockedError
	var retry *authcore.RetryError

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(locked.RetryAfterSeconds()))
		status, code = http.StatusLocked, "account_locked"
	case errors.As(err, &retry):
		w.Header().Set("Retry-After", strconv.Itoa(retry.RetryAfterSeconds()))
		status, code = http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, authcore.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authcore.ErrTwoFactorRequired):
		status, code = http.StatusUnauthorized, "two_factor_required"
	case errors.Is(err, authcore.ErrTokenInvalid):
		status, code = http.StatusUnauthorized, "token_invalid"
	case errors.Is(err, authcore.ErrEmailNotVerified):
		status, code = http.StatusForbidden, "email_not_verified"
	case errors.Is(err, authcore.ErrAlreadyRegistered):
		status, code = http.StatusConflict, "already_registered"
	case errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled):
		status, code = http.StatusConflict, "two_factor_already_enabled"
	case errors.Is(err, authcore.ErrTwoFactorNotEnabled):
		status, code = http.StatusConflict, "two_factor_not_enabled"
	case errors.Is(err, authcore.ErrPasswordPolicy):
		status, code = http.StatusBadRequest, "password_policy"
	case errors.Is(err, authcore.ErrInvalidEmail):
		status, code = http.StatusBadRequest, "invalid_email"
	case errors.Is(err, authcore.ErrVerificationInvalid):
		status, code = http.StatusBadRequest, "verification_invalid"
	case errors.Is(err, authcore.ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, authcore.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	default:
		a.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": code})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setRefreshCookie(w http.ResponseWriter, r *http.Request, tokens authcore.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    tokens.RefreshToken,
		Path:     "/auth",
		Expires:  tokens.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}
