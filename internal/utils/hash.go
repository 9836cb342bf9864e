package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
)

// CalculateSHA256 вычисляет SHA-256 хеш данных
func CalculateSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// CalculateStreamSHA256 вычисляет SHA-256 хеш потока, не держа его в памяти
func CalculateStreamSHA256(reader io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, reader)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// MatchSHA256 сравнивает хеш секрета с ожидаемым hex значением за постоянное время
func MatchSHA256(secret, expectedHex string) bool {
	actual := CalculateSHA256([]byte(secret))
	expected := strings.ToLower(strings.TrimSpace(expectedHex))
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1
}
