// Package transfer отправляет объект на сервер: небольшие одним запросом,
// крупные по чанкам с финализацией и очисткой при сбое.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/Gammanik/chunked-storage/internal/chunker"
	"github.com/Gammanik/chunked-storage/internal/storage"
)

const (
	DefaultChunkSize            = 5 << 20
	DefaultSmallObjectThreshold = 20 << 20
	cleanupTimeout              = 30 * time.Second
)

// ErrSizeChanged объект оказался другого размера, чем объявлено
var ErrSizeChanged = errors.New("object size does not match declared size")

// Options настройки отправки
type Options struct {
	ChunkSize            int64         // Размер чанка
	SmallObjectThreshold int64         // Объекты меньше отправляются одним запросом
	Concurrency          int           // Чанков в полете одновременно, 1 означает последовательно
	Pause                time.Duration // Пауза после каждого чанка
	Logger               *slog.Logger
	NewUploadID          func() string
}

// Object объект для отправки. Body читается последовательно ровно один раз.
type Object struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// ProgressFunc получает процент выполнения от 0 до 100
type ProgressFunc func(percent int)

// Result итог отправки
type Result struct {
	FileID      string
	Filename    string
	Chunked     bool
	UploadID    string
	TotalChunks int
}

// Uploader драйвер чанковой отправки
type Uploader struct {
	client storage.Client
	opts   Options
	logger *slog.Logger
}

// New создает Uploader; нулевые поля opts заменяются значениями по умолчанию
func New(client storage.Client, opts Options) *Uploader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.SmallObjectThreshold <= 0 {
		opts.SmallObjectThreshold = DefaultSmallObjectThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.NewUploadID == nil {
		opts.NewUploadID = uuid.NewString
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{client: client, opts: opts, logger: logger}
}

// Upload отправляет объект в папку folder
func (u *Uploader) Upload(ctx context.Context, obj Object, folder string, progress ProgressFunc) (*Result, error) {
	tracker := &progressTracker{fn: progress}

	var (
		res *Result
		err error
	)
	if obj.Size < u.opts.SmallObjectThreshold {
		res, err = u.uploadSingle(ctx, obj, folder, tracker)
	} else {
		res, err = u.uploadChunked(ctx, obj, folder, tracker)
	}
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", obj.Name, err)
	}

	tracker.set(100)
	return res, nil
}

func (u *Uploader) uploadSingle(ctx context.Context, obj Object, folder string, tracker *progressTracker) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(obj.Body, obj.Size+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != obj.Size {
		return nil, ErrSizeChanged
	}

	u.logger.InfoContext(ctx, "uploading file", "fileName", obj.Name, "size", units.HumanSize(float64(obj.Size)))

	resp, err := u.client.UploadSingle(ctx, storage.SingleRequest{
		FileName: obj.Name,
		MimeType: obj.MimeType,
		Folder:   folder,
		Data:     data,
		Progress: func(sent int64) {
			if obj.Size > 0 {
				// тело multipart чуть больше объекта, 100 ставится после ответа
				tracker.set(min(99, int(sent*100/obj.Size)))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return &Result{FileID: resp.FileID, Filename: resp.Filename}, nil
}

func (u *Uploader) uploadChunked(ctx context.Context, obj Object, folder string, tracker *progressTracker) (*Result, error) {
	uploadID := u.opts.NewUploadID()
	totalChunks := chunker.Count(obj.Size, u.opts.ChunkSize)

	logger := u.logger.With("uploadId", uploadID, "fileName", obj.Name)
	logger.InfoContext(ctx, "starting chunked upload",
		"size", units.HumanSize(float64(obj.Size)),
		"chunkSize", units.HumanSize(float64(u.opts.ChunkSize)),
		"totalChunks", totalChunks,
	)

	if err := u.sendChunks(ctx, obj, folder, uploadID, totalChunks, tracker); err != nil {
		u.cleanup(ctx, logger, uploadID)
		return nil, err
	}

	logger.InfoContext(ctx, "all chunks uploaded, finalizing")
	resp, err := u.client.FinalizeUpload(ctx, storage.FinalizeRequest{
		UploadID:    uploadID,
		FileName:    obj.Name,
		FileSize:    obj.Size,
		MimeType:    obj.MimeType,
		Folder:      folder,
		TotalChunks: totalChunks,
	})
	if err != nil {
		u.cleanup(ctx, logger, uploadID)
		return nil, fmt.Errorf("finalize: %w", err)
	}

	logger.InfoContext(ctx, "chunked upload finished", "fileId", resp.FileID)
	return &Result{
		FileID:      resp.FileID,
		Filename:    resp.Filename,
		Chunked:     true,
		UploadID:    uploadID,
		TotalChunks: totalChunks,
	}, nil
}

// sendChunks читает чанки по порядку и отправляет не более Concurrency одновременно.
// Первая ошибка отменяет остальные отправки.
func (u *Uploader) sendChunks(ctx context.Context, obj Object, folder, uploadID string, totalChunks int, tracker *progressTracker) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		read      int64
	)
	semaphore := make(chan struct{}, u.opts.Concurrency)
	// лишний байт сверх Size означает, что тело длиннее объявленного
	reader := chunker.NewChunkReader(io.LimitReader(obj.Body, obj.Size+1), u.opts.ChunkSize)

	send := func(index int, data []byte, hash string) {
		_, err := u.client.UploadChunk(ctx, storage.ChunkRequest{
			UploadID:    uploadID,
			ChunkIndex:  index,
			TotalChunks: totalChunks,
			FileName:    obj.Name,
			Folder:      folder,
			Data:        data,
			Checksum:    hash,
		})
		if err != nil {
			cancel(fmt.Errorf("chunk %d/%d: %w", index+1, totalChunks, err))
			return
		}

		mu.Lock()
		completed++
		tracker.set(completed * 100 / totalChunks)
		mu.Unlock()
	}

	for {
		index := reader.Index()
		data, hash, err := reader.NextChunk()
		if err == io.EOF {
			break
		}
		if err != nil {
			cancel(fmt.Errorf("read chunk %d: %w", index+1, err))
			break
		}
		read += int64(len(data))
		if read > obj.Size {
			cancel(ErrSizeChanged)
			break
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		if u.opts.Concurrency == 1 {
			send(index, data, hash)
			<-semaphore
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-semaphore }()
				send(index, data, hash)
			}()
		}

		if u.opts.Pause > 0 && ctx.Err() == nil {
			select {
			case <-time.After(u.opts.Pause):
			case <-ctx.Done():
			}
		}
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return err
	}
	if read != obj.Size {
		return ErrSizeChanged
	}
	return nil
}

func (u *Uploader) cleanup(ctx context.Context, logger *slog.Logger, uploadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	deleted, err := u.client.CleanupUpload(ctx, uploadID)
	if err != nil {
		logger.WarnContext(ctx, "failed to cleanup upload", "error", err)
		return
	}
	logger.InfoContext(ctx, "cleaned up failed upload", "deletedChunks", deleted)
}

// progressTracker не дает проценту уменьшаться
type progressTracker struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func (p *progressTracker) set(percent int) {
	if p.fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if percent <= p.last {
		return
	}
	p.last = percent
	p.fn(percent)
}
