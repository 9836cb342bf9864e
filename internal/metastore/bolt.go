package metastore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	chunksBucket   = []byte("upload_chunks")   // uploadID -> {meta, data}
	filesBucket    = []byte("files")           // id -> StoredObject без содержимого
	fileDataBucket = []byte("file_data")       // id -> index -> сегмент
	byUploadBucket = []byte("files_by_upload") // uploadID -> id

	chunkMetaBucket = []byte("meta")
	chunkDataBucket = []byte("data")
)

// BoltStore реализация Store на основе BoltDB
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore создает новое хранилище на основе BoltDB
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	// Создаем необходимые бакеты
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{chunksBucket, filesBucket, fileDataBucket, byUploadBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func indexKey(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

// PutChunk сохраняет чанк, заменяя прежний с тем же индексом
func (bs *BoltStore) PutChunk(ctx context.Context, rec ChunkRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	rec.Size = len(rec.Data)
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	var replaced bool
	err = bs.db.Update(func(tx *bolt.Tx) error {
		session, err := tx.Bucket(chunksBucket).CreateBucketIfNotExists([]byte(rec.UploadID))
		if err != nil {
			return err
		}
		meta, err := session.CreateBucketIfNotExists(chunkMetaBucket)
		if err != nil {
			return err
		}
		data, err := session.CreateBucketIfNotExists(chunkDataBucket)
		if err != nil {
			return err
		}

		key := indexKey(rec.ChunkIndex)
		replaced = meta.Get(key) != nil

		if err := meta.Put(key, encoded); err != nil {
			return err
		}
		return data.Put(key, rec.Data)
	})
	return replaced, err
}

// ListChunks возвращает чанки сессии; ключи big-endian, поэтому по возрастанию индекса
func (bs *BoltStore) ListChunks(ctx context.Context, uploadID string) ([]ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []ChunkRecord
	err := bs.db.View(func(tx *bolt.Tx) error {
		session := tx.Bucket(chunksBucket).Bucket([]byte(uploadID))
		if session == nil {
			return nil
		}
		data := session.Bucket(chunkDataBucket)

		return session.Bucket(chunkMetaBucket).ForEach(func(k, v []byte) error {
			var rec ChunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode chunk %s/%d: %w", uploadID, binary.BigEndian.Uint64(k), err)
			}
			// значения bolt живут только внутри транзакции
			rec.Data = append([]byte(nil), data.Get(k)...)
			chunks = append(chunks, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

// DeleteChunks удаляет бакет сессии целиком
func (bs *BoltStore) DeleteChunks(ctx context.Context, uploadID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deleted int
	err := bs.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(chunksBucket)
		session := root.Bucket([]byte(uploadID))
		if session == nil {
			return nil
		}
		deleted = session.Bucket(chunkMetaBucket).Stats().KeyN
		return root.DeleteBucket([]byte(uploadID))
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// GetSession сворачивает метаданные чанков одной сессии
func (bs *BoltStore) GetSession(ctx context.Context, uploadID string) (*SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []ChunkRecord
	err := bs.db.View(func(tx *bolt.Tx) error {
		session := tx.Bucket(chunksBucket).Bucket([]byte(uploadID))
		if session == nil {
			return nil
		}
		var err error
		chunks, err = decodeChunkMeta(session.Bucket(chunkMetaBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}

	info := summarize(uploadID, chunks)
	return &info, nil
}

func decodeChunkMeta(meta *bolt.Bucket) ([]ChunkRecord, error) {
	var chunks []ChunkRecord
	err := meta.ForEach(func(_, v []byte) error {
		var rec ChunkRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		chunks = append(chunks, rec)
		return nil
	})
	return chunks, err
}

// ListSessions сворачивает метаданные чанков по сессиям, не читая содержимое
func (bs *BoltStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sessions []SessionInfo
	err := bs.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(chunksBucket)
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}

			chunks, err := decodeChunkMeta(root.Bucket(k).Bucket(chunkMetaBucket))
			if err != nil {
				return fmt.Errorf("decode session %s: %w", k, err)
			}
			if len(chunks) > 0 {
				sessions = append(sessions, summarize(string(k), chunks))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// CreateObject записывает метаданные, содержимое и индекс по uploadID в одной транзакции
func (bs *BoltStore) CreateObject(ctx context.Context, obj *StoredObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	obj.ID = id.String()

	encoded, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	segments := obj.Chunks
	if !obj.IsChunked {
		segments = [][]byte{obj.Data}
	}

	return bs.db.Update(func(tx *bolt.Tx) error {
		data, err := tx.Bucket(fileDataBucket).CreateBucket([]byte(obj.ID))
		if err != nil {
			return err
		}
		for i, seg := range segments {
			if err := data.Put(indexKey(i), seg); err != nil {
				return err
			}
		}

		if obj.UploadID != "" {
			if err := tx.Bucket(byUploadBucket).Put([]byte(obj.UploadID), []byte(obj.ID)); err != nil {
				return err
			}
		}

		return tx.Bucket(filesBucket).Put([]byte(obj.ID), encoded)
	})
}

// GetObject возвращает объект вместе с содержимым
func (bs *BoltStore) GetObject(ctx context.Context, id string) (*StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var obj StoredObject
	err := bs.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(filesBucket).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return err
		}

		data := tx.Bucket(fileDataBucket).Bucket([]byte(id))
		if data == nil {
			return fmt.Errorf("object %s has no data", id)
		}

		var segments [][]byte
		err := data.ForEach(func(_, v []byte) error {
			segments = append(segments, append([]byte(nil), v...))
			return nil
		})
		if err != nil {
			return err
		}

		if obj.IsChunked {
			obj.Chunks = segments
		} else if len(segments) > 0 {
			obj.Data = segments[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &obj, nil
}

// HasObject проверяет наличие записи каталога
func (bs *BoltStore) HasObject(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := bs.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(filesBucket).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// FindByUploadID ищет объект, собранный из указанной сессии
func (bs *BoltStore) FindByUploadID(ctx context.Context, uploadID string) (*StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var obj StoredObject
	err := bs.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(byUploadBucket).Get([]byte(uploadID))
		if id == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(filesBucket).Get(id)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &obj)
	})
	if err != nil {
		return nil, err
	}

	return &obj, nil
}

// ListObjects возвращает записи папки без содержимого
func (bs *BoltStore) ListObjects(ctx context.Context, folder string) ([]StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objects := []StoredObject{}
	err := bs.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).ForEach(func(_, v []byte) error {
			var obj StoredObject
			if err := json.Unmarshal(v, &obj); err != nil {
				return err
			}
			if obj.Folder == folder {
				objects = append(objects, obj)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(objects)
	return objects, nil
}

// DeleteObject удаляет метаданные, содержимое и индекс по uploadID
func (bs *BoltStore) DeleteObject(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return bs.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(filesBucket)
		raw := files.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}

		var obj StoredObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return err
		}
		if obj.UploadID != "" {
			if err := tx.Bucket(byUploadBucket).Delete([]byte(obj.UploadID)); err != nil {
				return err
			}
		}

		err := tx.Bucket(fileDataBucket).DeleteBucket([]byte(id))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		return files.Delete([]byte(id))
	})
}

// Close закрывает хранилище
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}
