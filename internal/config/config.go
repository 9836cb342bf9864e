// Package config читает настройки сервиса из YAML файла и переменных
// окружения. Бизнес-код зависит только от интерфейса Config.
package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения: CHUNKSTORE_UPLOAD_SEGMENT_SIZE и т.д.
const EnvPrefix = "CHUNKSTORE"

// Config источник значений конфигурации
type Config interface {
	GetString(key string) string
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	GetSize(key string) int64
	GetArray(key string) []string
}

// Viper реализация Config на основе github.com/spf13/viper
type Viper struct {
	v *viper.Viper
}

var _ Config = (*Viper)(nil)

// Defaults значения по умолчанию для всех известных ключей
func Defaults() map[string]any {
	return map[string]any{
		"server.address":            ":8080",
		"server.read_timeout":       "300s",
		"server.write_timeout":      "300s",
		"server.shutdown_timeout":   "10s",
		"server.cors_origins":       "*",
		"storage.backend":           "bolt",
		"storage.bolt.path":         "/data/meta.db",
		"storage.mongo.uri":         "mongodb://localhost:27017",
		"storage.mongo.database":    "filestore",
		"upload.max_object_size":    "5GB",
		"upload.max_chunk_size":     "15MB",
		"upload.segment_size":       "8MB",
		"upload.strict_index_check": true,
		"upload.session_ttl":        "24h",
		"upload.janitor_interval":   "10m",
		"auth.token_sha256":         "",
		"log.level":                 "info",
	}
}

// New создает конфигурацию. Пустой pathFile означает только значения по
// умолчанию и переменные окружения.
func New(pathFile string) (*Viper, error) {
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if pathFile != "" {
		filename := path.Base(pathFile)
		ext := path.Ext(filename)

		v.AddConfigPath(path.Dir(pathFile))
		v.SetConfigName(strings.TrimSuffix(filename, ext))
		if ext != "" {
			v.SetConfigType(strings.TrimPrefix(ext, "."))
		}

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", pathFile, err)
		}
	}

	return &Viper{v: v}, nil
}

// GetString возвращает значение как строку
func (c *Viper) GetString(key string) string {
	return c.v.GetString(key)
}

// GetBool возвращает значение как bool
func (c *Viper) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetDuration возвращает значение как time.Duration ("10s", "24h")
func (c *Viper) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// GetSize разбирает человекочитаемый размер ("5MB", "16MiB", "1024") в байты.
// Некорректное значение дает 0.
func (c *Viper) GetSize(key string) int64 {
	size, err := ParseSize(c.v.GetString(key))
	if err != nil {
		return 0
	}
	return size
}

// GetArray возвращает значение, разделенное запятыми
func (c *Viper) GetArray(key string) []string {
	raw := c.v.GetString(key)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseSize разбирает размер в двоичных единицах (1MB = 1024*1024)
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	return units.RAMInBytes(s)
}
