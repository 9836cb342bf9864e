package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltChunkStore(t *testing.T) {
	testChunkStore(t, newTestBolt(t))
}

func TestBoltCatalog(t *testing.T) {
	testCatalog(t, newTestBolt(t))
}

func TestBoltReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	_, err = store.PutChunk(ctx, chunk("u1", 0, 2, "ab"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	chunks, err := store.ListChunks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte("ab"), chunks[0].Data)
}

func TestBoltCanceledContext(t *testing.T) {
	store := newTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.PutChunk(ctx, chunk("u1", 0, 1, "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func chunk(uploadID string, index, total int, data string) ChunkRecord {
	return ChunkRecord{
		UploadID:    uploadID,
		ChunkIndex:  index,
		TotalChunks: total,
		FileName:    "movie.mp4",
		Folder:      "media",
		Data:        []byte(data),
		UploadedAt:  time.Now().UTC(),
	}
}

// testChunkStore общие проверки для всех реализаций ChunkStore
func testChunkStore(t *testing.T, store ChunkStore) {
	ctx := context.Background()

	replaced, err := store.PutChunk(ctx, chunk("u1", 1, 3, "bb"))
	require.NoError(t, err)
	assert.False(t, replaced)

	_, err = store.PutChunk(ctx, chunk("u1", 0, 3, "aa"))
	require.NoError(t, err)

	replaced, err = store.PutChunk(ctx, chunk("u1", 1, 3, "BB"))
	require.NoError(t, err)
	assert.True(t, replaced)

	_, err = store.PutChunk(ctx, chunk("u2", 0, 1, "zz"))
	require.NoError(t, err)

	chunks, err := store.ListChunks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	byIndex := map[int]string{}
	for _, c := range chunks {
		byIndex[c.ChunkIndex] = string(c.Data)
		assert.Equal(t, 3, c.TotalChunks)
		assert.Equal(t, 2, c.Size)
	}
	assert.Equal(t, map[int]string{0: "aa", 1: "BB"}, byIndex)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		if s.UploadID == "u1" {
			assert.Equal(t, []int{0, 1}, s.Indices)
			assert.Equal(t, 2, s.Received)
			assert.Equal(t, 3, s.TotalChunks)
			assert.Equal(t, int64(4), s.Bytes)
			assert.Equal(t, "movie.mp4", s.FileName)
			assert.False(t, s.LastSeen.IsZero())
		}
	}

	info, err := store.GetSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, info.Indices)
	assert.Equal(t, "media", info.Folder)

	_, err = store.GetSession(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := store.DeleteChunks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = store.DeleteChunks(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = store.DeleteChunks(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	chunks, err = store.ListChunks(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = store.GetSession(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	chunks, err = store.ListChunks(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

// testCatalog общие проверки для всех реализаций Catalog
func testCatalog(t *testing.T, catalog Catalog) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	chunked := &StoredObject{
		UploadID:     "up-1",
		Filename:     "1-abcdef-movie.mp4",
		OriginalName: "movie.mp4",
		MimeType:     "video/mp4",
		Size:         5,
		Folder:       "media",
		Category:     "video",
		CreatedAt:    base,
		IsChunked:    true,
		TotalChunks:  3,
		Chunks:       [][]byte{[]byte("ab"), []byte("c"), []byte("de")},
	}
	require.NoError(t, catalog.CreateObject(ctx, chunked))
	require.NotEmpty(t, chunked.ID)

	inline := &StoredObject{
		Filename:     "2-ghijkl-note.txt",
		OriginalName: "note.txt",
		MimeType:     "text/plain",
		Size:         4,
		Folder:       "media",
		Category:     "other",
		CreatedAt:    base.Add(time.Second),
		Data:         []byte("note"),
	}
	require.NoError(t, catalog.CreateObject(ctx, inline))
	require.NotEqual(t, chunked.ID, inline.ID)

	got, err := catalog.GetObject(ctx, chunked.ID)
	require.NoError(t, err)
	assert.True(t, got.IsChunked)
	assert.Equal(t, chunked.Chunks, got.Chunks)
	assert.Equal(t, "movie.mp4", got.OriginalName)
	assert.Equal(t, "up-1", got.UploadID)

	got, err = catalog.GetObject(ctx, inline.ID)
	require.NoError(t, err)
	assert.False(t, got.IsChunked)
	assert.Equal(t, []byte("note"), got.Data)

	ok, err := catalog.HasObject(ctx, inline.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := catalog.FindByUploadID(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, chunked.ID, found.ID)

	_, err = catalog.FindByUploadID(ctx, "up-unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := catalog.ListObjects(ctx, "media")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, inline.ID, list[0].ID)
	assert.Equal(t, chunked.ID, list[1].ID)
	assert.Nil(t, list[1].Chunks)

	list, err = catalog.ListObjects(ctx, "other-folder")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, catalog.DeleteObject(ctx, chunked.ID))
	assert.ErrorIs(t, catalog.DeleteObject(ctx, chunked.ID), ErrNotFound)

	_, err = catalog.GetObject(ctx, chunked.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = catalog.FindByUploadID(ctx, "up-1")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = catalog.HasObject(ctx, chunked.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
