// Package middleware содержит HTTP middleware сервиса книговыдачи.
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

const patronIDKey contextKey = "patronID"

const (
	cardCookieName = "library_card"
	cardCookieTTL  = 30 * 24 * time.Hour
)

// AuthMiddleware проверяет читательский билет, переданный в подписанном cookie.
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

// Middleware проверяет cookie читательского билета и добавляет идентификатор читателя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(cardCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		patronID, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), patronIDKey, patronID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetCardCookie выдаёт читателю cookie читательского билета.
func (a *AuthMiddleware) SetCardCookie(w http.ResponseWriter, patronID int64) {
	cookie := &http.Cookie{
		Name:     cardCookieName,
		Value:    a.sign(strconv.FormatInt(patronID, 10)),
		Path:     "/",
		Expires:  time.Now().Add(cardCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(idStr string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr))
	return idStr + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (int64, bool) {
	idStr, signature, found := strings.Cut(cookieValue, ".")
	if !found {
		return 0, false
	}

	_, expected, _ := strings.Cut(a.sign(idStr), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return 0, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

// GetPatronIDFromContext извлекает идентификатор читателя из контекста запроса.
func GetPatronIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(patronIDKey).(int64)
	return id, ok
}
