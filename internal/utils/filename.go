package utils

import (
	"math/rand/v2"
	"strconv"
	"time"
)

const (
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength   = 6
)

// StorageFilename строит уникальное имя для хранения:
// {unix millis}-{6 символов base36}-{исходное имя}
func StorageFilename(now time.Time, name string) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + randomSuffix() + "-" + name
}

func randomSuffix() string {
	b := make([]byte, suffixLength)
	for i := range b {
		b[i] = base36Alphabet[rand.IntN(len(base36Alphabet))]
	}
	return string(b)
}
