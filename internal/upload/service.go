// Package upload реализует серверную часть протокола: прием чанков,
// сборку объекта, очистку сессий, чтение и прямую загрузку.
package upload

import (
	"log/slog"
	"time"

	"github.com/docker/go-units"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/config"
	"github.com/Gammanik/chunked-storage/internal/metastore"
)

// Clock источник текущего времени
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// Options лимиты и режимы сервиса
type Options struct {
	MaxObjectSize    int64         // Предел размера объекта
	MaxChunkSize     int64         // Предел размера одного чанка
	SegmentSize      int64         // Порог нарезки при прямой загрузке
	StrictIndexCheck bool          // Требовать ровно индексы 0..N-1 при финализации
	SessionTTL       time.Duration // Возраст брошенной сессии, 0 отключает
}

// DefaultOptions значения по умолчанию
func DefaultOptions() Options {
	return Options{
		MaxObjectSize:    5 << 30,
		MaxChunkSize:     15 << 20,
		SegmentSize:      8 << 20,
		StrictIndexCheck: true,
		SessionTTL:       24 * time.Hour,
	}
}

// OptionsFromConfig читает ключи upload.* из конфигурации
func OptionsFromConfig(cfg config.Config) Options {
	opts := DefaultOptions()
	if v := cfg.GetSize("upload.max_object_size"); v > 0 {
		opts.MaxObjectSize = v
	}
	if v := cfg.GetSize("upload.max_chunk_size"); v > 0 {
		opts.MaxChunkSize = v
	}
	if v := cfg.GetSize("upload.segment_size"); v > 0 {
		opts.SegmentSize = v
	}
	opts.StrictIndexCheck = cfg.GetBool("upload.strict_index_check")
	opts.SessionTTL = cfg.GetDuration("upload.session_ttl")
	return opts
}

// Dependency внешние зависимости сервиса
type Dependency struct {
	Chunks  metastore.ChunkStore
	Catalog metastore.Catalog
	Clock   Clock
	Logger  *slog.Logger
}

// Service серверное ядро протокола чанковой загрузки
type Service struct {
	chunks  metastore.ChunkStore
	catalog metastore.Catalog
	clock   Clock
	logger  *slog.Logger
	opts    Options
	locks   *keyedMutex
}

// NewService создает сервис
func NewService(dep Dependency, opts Options) *Service {
	clock := dep.Clock
	if clock == nil {
		clock = realClock{}
	}

	logger := dep.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		chunks:  dep.Chunks,
		catalog: dep.Catalog,
		clock:   clock,
		logger:  logger.With("component", "upload"),
		opts:    opts,
		locks:   newKeyedMutex(),
	}
}

func (s *Service) errTooLarge() *apperror.Error {
	msg := "File too large. Maximum size is " + units.BytesSize(float64(s.opts.MaxObjectSize))
	return apperror.NewSizeExceeded(msg, s.opts.MaxObjectSize)
}
