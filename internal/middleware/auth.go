// Package middleware содержит HTTP middleware сервиса скупки драгметаллов.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const (
	userIDKey  contextKey = "userID"
	isAdminKey contextKey = "isAdmin"
)

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour

	roleAdmin = "a"
	roleUser  = "u"
)

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и кладёт идентификатор пользователя
// и признак администратора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, isAdmin, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, isAdminKey, isAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает запрос дальше только для администратора.
// Используется после Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdminFromContext(r.Context()) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64, isAdmin bool) {
	value := a.signPayload(payload(userID, isAdmin))

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func payload(userID int64, isAdmin bool) string {
	role := roleUser
	if isAdmin {
		role = roleAdmin
	}
	return strconv.FormatInt(userID, 10) + ":" + role
}

func (a *AuthMiddleware) signPayload(p string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(p))
	signature := mac.Sum(nil)
	return p + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (int64, bool, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return 0, false, false
	}

	p := parts[0]
	signature := parts[1]

	expected := a.signPayload(p)
	expectedParts := strings.Split(expected, ".")
	if len(expectedParts) != 2 {
		return 0, false, false
	}

	if !hmac.Equal([]byte(signature), []byte(expectedParts[1])) {
		return 0, false, false
	}

	fields := strings.Split(p, ":")
	if len(fields) != 2 {
		return 0, false, false
	}

	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, false, false
	}

	switch fields[1] {
	case roleAdmin:
		return id, true, true
	case roleUser:
		return id, false, true
	}

	return 0, false, false
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// IsAdminFromContext сообщает, аутентифицирован ли запрос администратором.
func IsAdminFromContext(ctx context.Context) bool {
	isAdmin, ok := ctx.Value(isAdminKey).(bool)
	return ok && isAdmin
}
