package upload

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/chunker"
	"github.com/Gammanik/chunked-storage/internal/config"
	"github.com/Gammanik/chunked-storage/internal/metastore"
	"github.com/Gammanik/chunked-storage/internal/utils"
)

const mb = 1 << 20

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *Service
	store *metastore.BoltStore
	clock *fakeClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store, err := metastore.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(Dependency{
		Chunks:  store,
		Catalog: store,
		Clock:   clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)

	return &fixture{svc: svc, store: store, clock: clock}
}

func pattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + i/251)
	}
	return data
}

// sendAll отправляет объект чанками, пропуская индексы из skip
func (f *fixture) sendAll(t *testing.T, uploadID string, data []byte, chunkSize int64, skip ...int) int {
	t.Helper()

	parts := chunker.Split(data, chunkSize)
	skipped := map[int]bool{}
	for _, i := range skip {
		skipped[i] = true
	}

	for i, part := range parts {
		if skipped[i] {
			continue
		}
		ack, err := f.svc.PutChunk(context.Background(), ChunkInput{
			UploadID:    uploadID,
			ChunkIndex:  i,
			TotalChunks: len(parts),
			FileName:    "movie.mp4",
			Folder:      "media",
			Data:        part,
			Checksum:    utils.CalculateSHA256(part),
		})
		require.NoError(t, err)
		assert.Equal(t, i, ack.ChunkIndex)
		assert.False(t, ack.Replaced)
	}
	return len(parts)
}

func finalizeInput(uploadID string, size int64, total int) FinalizeInput {
	return FinalizeInput{
		UploadID:    uploadID,
		FileName:    "movie.mp4",
		FileSize:    size,
		MimeType:    "video/mp4",
		Folder:      "media",
		TotalChunks: total,
	}
}

func TestChunkedUploadRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	data := pattern(45 * mb)
	total := f.sendAll(t, "up-45", data, 5*mb)
	require.Equal(t, 9, total)

	res, err := f.svc.Finalize(ctx, finalizeInput("up-45", int64(len(data)), total))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Regexp(t, `^\d+-[0-9a-z]{6}-movie\.mp4$`, res.Filename)

	sessions, err := f.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	obj, err := f.store.GetObject(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, obj.IsChunked)
	assert.Equal(t, 9, obj.TotalChunks)
	assert.Equal(t, "video", obj.Category)

	content, err := f.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "movie.mp4", content.Name)
	assert.Equal(t, "video/mp4", content.MimeType)
	assert.Equal(t, int64(len(data)), content.Size)
	assert.True(t, bytes.Equal(data, content.Data))
}

func TestFinalizeMissingChunk(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	data := pattern(100 * 1024)
	total := f.sendAll(t, "up-gap", data, 10*1024, 3)
	require.Equal(t, 10, total)

	_, err := f.svc.Finalize(ctx, finalizeInput("up-gap", int64(len(data)), total))
	require.Error(t, err)
	require.True(t, apperror.Is(err, apperror.CodeChunkCountMismatch))

	var aerr *apperror.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "Missing chunks. Expected 10, found 9", aerr.Msg())
	assert.Equal(t, 10, aerr.Details()["expected"])
	assert.Equal(t, 9, aerr.Details()["found"])

	_, err = f.store.FindByUploadID(ctx, "up-gap")
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	list, err := f.svc.List(ctx, "media")
	require.NoError(t, err)
	assert.Empty(t, list)

	deleted, err := f.svc.Cleanup(ctx, "up-gap")
	require.NoError(t, err)
	assert.Equal(t, 9, deleted)
}

func TestFinalizeLegacyCountMode(t *testing.T) {
	ctx := context.Background()

	// индексы 0, 1 и 5 при объявленных трех чанках
	seed := func(f *fixture) {
		for _, i := range []int{0, 1, 5} {
			_, err := f.store.PutChunk(ctx, metastore.ChunkRecord{
				UploadID:    "up-legacy",
				ChunkIndex:  i,
				TotalChunks: 3,
				FileName:    "a.bin",
				Folder:      "media",
				Data:        []byte{byte(i)},
				UploadedAt:  f.clock.Now(),
			})
			require.NoError(t, err)
		}
	}

	strict := newFixture(t, DefaultOptions())
	seed(strict)
	_, err := strict.svc.Finalize(ctx, finalizeInput("up-legacy", 3, 3))
	assert.True(t, apperror.Is(err, apperror.CodeChunkCountMismatch))

	opts := DefaultOptions()
	opts.StrictIndexCheck = false
	legacy := newFixture(t, opts)
	seed(legacy)
	res, err := legacy.svc.Finalize(ctx, finalizeInput("up-legacy", 3, 3))
	require.NoError(t, err)

	content, err := legacy.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 5}, content.Data)
}

func TestFinalizeSizeMismatch(t *testing.T) {
	ctx := context.Background()
	data := pattern(21 * 1024)

	strict := newFixture(t, DefaultOptions())
	total := strict.sendAll(t, "up-size", data, 5*1024)
	require.Equal(t, 5, total)

	_, err := strict.svc.Finalize(ctx, finalizeInput("up-size", 22*1024, total))
	require.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	var aerr *apperror.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "File size does not match uploaded chunks", aerr.Msg())
	assert.Equal(t, int64(22*1024), aerr.Details()["expected"])
	assert.Equal(t, int64(21*1024), aerr.Details()["found"])

	_, err = strict.store.FindByUploadID(ctx, "up-size")
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	info, err := strict.svc.Status(ctx, "up-size")
	require.NoError(t, err)
	assert.Equal(t, 5, info.Received)

	// без строгой проверки размер берется из запроса, как раньше
	opts := DefaultOptions()
	opts.StrictIndexCheck = false
	legacy := newFixture(t, opts)
	legacy.sendAll(t, "up-size", data, 5*1024)
	_, err = legacy.svc.Finalize(ctx, finalizeInput("up-size", 22*1024, total))
	require.NoError(t, err)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	data := pattern(3000)
	total := f.sendAll(t, "up-twice", data, 1000)

	first, err := f.svc.Finalize(ctx, finalizeInput("up-twice", 3000, total))
	require.NoError(t, err)

	second, err := f.svc.Finalize(ctx, finalizeInput("up-twice", 3000, total))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	list, err := f.svc.List(ctx, "media")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFinalizeValidation(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	in := finalizeInput("up", 10, 1)
	in.FileSize = 0
	_, err := f.svc.Finalize(ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	in = finalizeInput("", 10, 1)
	_, err = f.svc.Finalize(ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	in = finalizeInput("up", 6<<30, 1)
	_, err = f.svc.Finalize(ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeSizeExceeded))

	_, err = f.svc.Finalize(ctx, finalizeInput("never-sent", 10, 2))
	assert.True(t, apperror.Is(err, apperror.CodeChunkCountMismatch))
}

func TestPutChunkReplaces(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	put := func(index int, data string) *ChunkAck {
		ack, err := f.svc.PutChunk(ctx, ChunkInput{
			UploadID:    "up-retry",
			ChunkIndex:  index,
			TotalChunks: 2,
			FileName:    "a.txt",
			Folder:      "docs",
			Data:        []byte(data),
		})
		require.NoError(t, err)
		return ack
	}

	assert.False(t, put(0, "hello ").Replaced)
	assert.False(t, put(1, "wurld").Replaced)
	assert.True(t, put(1, "world").Replaced)

	info, err := f.svc.Status(ctx, "up-retry")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, info.Indices)
	assert.Equal(t, 2, info.TotalChunks)

	res, err := f.svc.Finalize(ctx, FinalizeInput{
		UploadID:    "up-retry",
		FileName:    "a.txt",
		FileSize:    11,
		Folder:      "docs",
		TotalChunks: 2,
	})
	require.NoError(t, err)

	content, err := f.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content.Data))
	assert.Equal(t, utils.DefaultMimeType, content.MimeType)
}

func TestPutChunkValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxChunkSize = 8
	opts.MaxObjectSize = 12
	f := newFixture(t, opts)
	ctx := context.Background()

	valid := ChunkInput{
		UploadID:    "up",
		ChunkIndex:  0,
		TotalChunks: 2,
		FileName:    "a.bin",
		Folder:      "f",
		Data:        []byte("12345678"),
	}

	cases := []struct {
		name   string
		mutate func(in *ChunkInput)
		code   apperror.Code
	}{
		{"missing upload id", func(in *ChunkInput) { in.UploadID = "" }, apperror.CodeInvalidInput},
		{"missing folder", func(in *ChunkInput) { in.Folder = "" }, apperror.CodeInvalidInput},
		{"empty payload", func(in *ChunkInput) { in.Data = nil }, apperror.CodeInvalidInput},
		{"zero total", func(in *ChunkInput) { in.TotalChunks = 0 }, apperror.CodeInvalidInput},
		{"negative index", func(in *ChunkInput) { in.ChunkIndex = -1 }, apperror.CodeInvalidInput},
		{"index past total", func(in *ChunkInput) { in.ChunkIndex = 2 }, apperror.CodeInvalidInput},
		{"chunk too large", func(in *ChunkInput) { in.Data = []byte("123456789") }, apperror.CodeSizeExceeded},
		{"checksum mismatch", func(in *ChunkInput) { in.Checksum = utils.CalculateSHA256([]byte("x")) }, apperror.CodeInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			_, err := f.svc.PutChunk(ctx, in)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperror.CodeOf(err))
		})
	}

	_, err := f.svc.PutChunk(ctx, valid)
	require.NoError(t, err)

	in := valid
	in.ChunkIndex = 1
	in.TotalChunks = 3
	_, err = f.svc.PutChunk(ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	in = valid
	in.ChunkIndex = 1
	_, err = f.svc.PutChunk(ctx, in)
	assert.True(t, apperror.Is(err, apperror.CodeSizeExceeded))
}

func TestPutChunkConcurrent(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	data := pattern(64 * 1024)
	parts := chunker.Split(data, 4096)

	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(i int, part []byte) {
			defer wg.Done()
			_, err := f.svc.PutChunk(ctx, ChunkInput{
				UploadID:    "up-par",
				ChunkIndex:  i,
				TotalChunks: len(parts),
				FileName:    "p.bin",
				Folder:      "f",
				Data:        part,
			})
			assert.NoError(t, err)
		}(i, part)
	}
	wg.Wait()

	res, err := f.svc.Finalize(ctx, FinalizeInput{
		UploadID:    "up-par",
		FileName:    "p.bin",
		FileSize:    int64(len(data)),
		Folder:      "f",
		TotalChunks: len(parts),
	})
	require.NoError(t, err)

	content, err := f.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, data, content.Data)
	assert.Zero(t, f.svc.locks.size())
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	deleted, err := f.svc.Cleanup(ctx, "never-sent")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = f.svc.Cleanup(ctx, "")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	data := pattern(2500)
	total := f.sendAll(t, "up-done", data, 1000)
	res, err := f.svc.Finalize(ctx, finalizeInput("up-done", 2500, total))
	require.NoError(t, err)

	deleted, err = f.svc.Cleanup(ctx, "up-done")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	content, err := f.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, data, content.Data)

	_, err = f.svc.Status(ctx, "up-done")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestStoreDirect(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	small := pattern(2 * mb)
	res, err := f.svc.StoreDirect(ctx, DirectInput{
		FileName: "photo.png",
		MimeType: "image/png",
		Folder:   "pics",
		Data:     small,
	})
	require.NoError(t, err)

	obj, err := f.store.GetObject(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, obj.IsChunked)
	assert.Equal(t, "image", obj.Category)
	assert.Empty(t, obj.UploadID)

	content, err := f.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, small, content.Data)

	large := pattern(20 * mb)
	res, err = f.svc.StoreDirect(ctx, DirectInput{FileName: "big.bin", Folder: "pics", Data: large})
	require.NoError(t, err)

	obj, err = f.store.GetObject(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, obj.IsChunked)
	assert.Equal(t, 3, obj.TotalChunks)

	content, err = f.svc.Open(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(large, content.Data))
	assert.Equal(t, utils.DefaultMimeType, content.MimeType)
}

func TestStoreDirectValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxObjectSize = 10
	f := newFixture(t, opts)
	ctx := context.Background()

	_, err := f.svc.StoreDirect(ctx, DirectInput{FileName: "a", Data: []byte("x")})
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	_, err = f.svc.StoreDirect(ctx, DirectInput{FileName: "a", Folder: "f", Data: pattern(11)})
	assert.True(t, apperror.Is(err, apperror.CodeSizeExceeded))
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	first, err := f.svc.StoreDirect(ctx, DirectInput{FileName: "a.txt", Folder: "docs", Data: []byte("a")})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.StoreDirect(ctx, DirectInput{FileName: "b.txt", Folder: "docs", Data: []byte("b")})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = f.svc.List(ctx, "")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidInput))

	require.NoError(t, f.svc.Delete(ctx, first.ID))
	assert.True(t, apperror.Is(f.svc.Delete(ctx, first.ID), apperror.CodeNotFound))

	_, err = f.svc.Open(ctx, first.ID)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestRecover(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	// объект собран, но чанки остались после сбоя
	require.NoError(t, f.store.CreateObject(ctx, &metastore.StoredObject{
		UploadID:    "up-crashed",
		Filename:    "1-aaaaaa-x.bin",
		Folder:      "media",
		CreatedAt:   f.clock.Now(),
		IsChunked:   true,
		TotalChunks: 1,
		Chunks:      [][]byte{[]byte("x")},
	}))
	f.sendAll(t, "up-crashed", []byte("x"), 1)

	f.sendAll(t, "up-old", pattern(10), 5)
	f.clock.Advance(25 * time.Hour)
	f.sendAll(t, "up-active", pattern(10), 5)

	report, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Superseded: 1, Expired: 1, Kept: 1}, report)

	sessions, err := f.store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "up-active", sessions[0].UploadID)

	ok, err := f.store.HasObject(ctx, mustFind(t, f.store, "up-crashed"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecoverTTLDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.SessionTTL = 0
	f := newFixture(t, opts)

	f.sendAll(t, "up-old", pattern(10), 5)
	f.clock.Advance(1000 * time.Hour)

	report, err := f.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Kept: 1}, report)
}

func mustFind(t *testing.T, store *metastore.BoltStore, uploadID string) string {
	t.Helper()
	obj, err := store.FindByUploadID(context.Background(), uploadID)
	require.NoError(t, err)
	return obj.ID
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), OptionsFromConfig(cfg))

	t.Setenv("CHUNKSTORE_UPLOAD_MAX_CHUNK_SIZE", "4MB")
	t.Setenv("CHUNKSTORE_UPLOAD_STRICT_INDEX_CHECK", "false")
	t.Setenv("CHUNKSTORE_UPLOAD_SESSION_TTL", "0s")

	cfg, err = config.New("")
	require.NoError(t, err)
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, int64(4<<20), opts.MaxChunkSize)
	assert.False(t, opts.StrictIndexCheck)
	assert.Zero(t, opts.SessionTTL)
	assert.Equal(t, int64(5<<30), opts.MaxObjectSize)
}
