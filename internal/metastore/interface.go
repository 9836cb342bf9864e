package metastore

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound возвращается, когда запись каталога отсутствует
var ErrNotFound = errors.New("metastore: not found")

// ChunkRecord один принятый чанк незавершенной загрузки
type ChunkRecord struct {
	UploadID    string    `json:"uploadId"`    // Идентификатор сессии загрузки
	ChunkIndex  int       `json:"chunkIndex"`  // Позиция чанка, с нуля
	TotalChunks int       `json:"totalChunks"` // Объявленное клиентом число чанков
	FileName    string    `json:"fileName"`    // Исходное имя файла
	Folder      string    `json:"folder"`      // Папка назначения
	Data        []byte    `json:"-"`           // Содержимое чанка
	Size        int       `json:"size"`        // Размер Data
	Checksum    string    `json:"checksum"`    // SHA-256 содержимого
	UploadedAt  time.Time `json:"uploadedAt"`  // Время приема
}

// SessionInfo сводка по открытой сессии загрузки
type SessionInfo struct {
	UploadID    string    `json:"uploadId"`
	FileName    string    `json:"fileName"`
	Folder      string    `json:"folder"`
	TotalChunks int       `json:"totalChunks"`
	Received    int       `json:"received"`
	Indices     []int     `json:"indices"`
	Bytes       int64     `json:"bytes"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
}

// StoredObject запись каталога о сохраненном файле.
// Содержимое лежит либо в Data (IsChunked=false), либо в Chunks.
type StoredObject struct {
	ID           string    `json:"id"`
	UploadID     string    `json:"uploadId,omitempty"` // Пусто для прямой загрузки
	Filename     string    `json:"filename"`           // Уникальное имя хранения
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Folder       string    `json:"folder"`
	Category     string    `json:"category"`
	CreatedAt    time.Time `json:"createdAt"`
	IsChunked    bool      `json:"isChunked"`
	TotalChunks  int       `json:"totalChunks,omitempty"`
	Data         []byte    `json:"-"`
	Chunks       [][]byte  `json:"-"`
}

// ChunkStore хранилище чанков незавершенных загрузок
type ChunkStore interface {
	// PutChunk сохраняет чанк по ключу (UploadID, ChunkIndex).
	// Повторная запись заменяет прежнюю, replaced сообщает об этом.
	PutChunk(ctx context.Context, rec ChunkRecord) (replaced bool, err error)

	// ListChunks возвращает все чанки сессии без гарантии порядка
	ListChunks(ctx context.Context, uploadID string) ([]ChunkRecord, error)

	// DeleteChunks удаляет все чанки сессии и возвращает их число
	DeleteChunks(ctx context.Context, uploadID string) (int, error)

	// GetSession возвращает сводку по сессии или ErrNotFound, если чанков нет
	GetSession(ctx context.Context, uploadID string) (*SessionInfo, error)

	// ListSessions возвращает сводку по всем открытым сессиям
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// Close закрывает хранилище
	Close() error
}

// Catalog хранилище записей о готовых файлах
type Catalog interface {
	// CreateObject присваивает ID и атомарно записывает объект вместе с содержимым
	CreateObject(ctx context.Context, obj *StoredObject) error

	// GetObject возвращает объект с содержимым или ErrNotFound
	GetObject(ctx context.Context, id string) (*StoredObject, error)

	// HasObject проверяет наличие записи
	HasObject(ctx context.Context, id string) (bool, error)

	// FindByUploadID возвращает объект, собранный из сессии, или ErrNotFound
	FindByUploadID(ctx context.Context, uploadID string) (*StoredObject, error)

	// ListObjects возвращает записи папки без содержимого, новые первыми
	ListObjects(ctx context.Context, folder string) ([]StoredObject, error)

	// DeleteObject удаляет объект или возвращает ErrNotFound
	DeleteObject(ctx context.Context, id string) error

	// Close закрывает хранилище
	Close() error
}

// Store объединяет оба хранилища одного бэкенда
type Store interface {
	ChunkStore
	Catalog
}

// summarize сворачивает метаданные чанков одной сессии в SessionInfo
func summarize(uploadID string, chunks []ChunkRecord) SessionInfo {
	info := SessionInfo{UploadID: uploadID, Indices: make([]int, 0, len(chunks))}
	for _, c := range chunks {
		if info.FileName == "" {
			info.FileName = c.FileName
			info.Folder = c.Folder
			info.TotalChunks = c.TotalChunks
		}
		info.Indices = append(info.Indices, c.ChunkIndex)
		info.Bytes += int64(c.Size)
		if info.FirstSeen.IsZero() || c.UploadedAt.Before(info.FirstSeen) {
			info.FirstSeen = c.UploadedAt
		}
		if c.UploadedAt.After(info.LastSeen) {
			info.LastSeen = c.UploadedAt
		}
	}
	sort.Ints(info.Indices)
	info.Received = len(info.Indices)
	return info
}

func sortNewestFirst(objects []StoredObject) {
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].CreatedAt.After(objects[j].CreatedAt)
	})
}
