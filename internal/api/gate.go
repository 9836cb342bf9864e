package api

import (
	"net/http"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/storage"
	"github.com/Gammanik/chunked-storage/internal/utils"
)

// Gate решает, допускать ли запрос к /api
type Gate interface {
	Admit(r *http.Request) error
}

// OpenGate допускает все запросы
type OpenGate struct{}

// Admit всегда разрешает
func (OpenGate) Admit(*http.Request) error {
	return nil
}

// TokenGate сверяет SHA-256 заголовка X-Vault-Token с сохраненным хешем
type TokenGate struct {
	SHA256 string
}

// Admit отклоняет запрос без токена или с неверным токеном
func (g TokenGate) Admit(r *http.Request) error {
	token := r.Header.Get(storage.TokenHeader)
	if token == "" || !utils.MatchSHA256(token, g.SHA256) {
		return apperror.NewUnauthorized()
	}
	return nil
}

// NewGate возвращает TokenGate, если хеш задан, иначе OpenGate
func NewGate(tokenSHA256 string) Gate {
	if tokenSHA256 == "" {
		return OpenGate{}
	}
	return TokenGate{SHA256: tokenSHA256}
}
