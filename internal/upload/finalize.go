package upload

import (
	"context"
	"errors"
	"sort"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/metastore"
	"github.com/Gammanik/chunked-storage/internal/utils"
)

// FinalizeInput запрос на сборку объекта из принятых чанков
type FinalizeInput struct {
	UploadID    string
	FileName    string
	FileSize    int64
	MimeType    string
	Folder      string
	TotalChunks int
}

// FinalizeResult идентификатор созданной записи каталога
type FinalizeResult struct {
	ID       string
	Filename string
}

// Finalize собирает чанки сессии в одну запись каталога и удаляет их.
// Повторный вызов для уже собранной сессии возвращает существующую запись.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	if in.UploadID == "" || in.FileName == "" || in.FileSize <= 0 || in.Folder == "" || in.TotalChunks <= 0 {
		return nil, apperror.NewInvalidInput("Missing required parameters")
	}
	if in.FileSize > s.opts.MaxObjectSize {
		return nil, s.errTooLarge()
	}

	unlock := s.locks.Lock(in.UploadID)
	defer unlock()

	existing, err := s.catalog.FindByUploadID(ctx, in.UploadID)
	switch {
	case err == nil:
		s.dropChunks(ctx, in.UploadID)
		s.logger.InfoContext(ctx, "upload already finalized", "uploadId", in.UploadID, "fileId", existing.ID)
		return &FinalizeResult{ID: existing.ID, Filename: existing.Filename}, nil
	case !errors.Is(err, metastore.ErrNotFound):
		return nil, apperror.NewInternal("Failed to finalize upload", err)
	}

	s.logger.InfoContext(ctx, "finalizing upload",
		"uploadId", in.UploadID,
		"fileName", in.FileName,
		"totalChunks", in.TotalChunks,
	)

	chunks, err := s.chunks.ListChunks(ctx, in.UploadID)
	if err != nil {
		return nil, apperror.NewInternal("Failed to finalize upload", err)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})

	if !s.complete(chunks, in.TotalChunks) {
		return nil, apperror.NewChunkCountMismatch(in.TotalChunks, len(chunks))
	}

	var staged int64
	payload := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		payload = append(payload, c.Data)
		staged += int64(len(c.Data))
	}
	if s.opts.StrictIndexCheck && staged != in.FileSize {
		return nil, apperror.NewInvalidInput("File size does not match uploaded chunks").
			WithDetail("expected", in.FileSize).
			WithDetail("found", staged)
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = utils.DefaultMimeType
	}

	now := s.clock.Now()
	obj := &metastore.StoredObject{
		UploadID:     in.UploadID,
		Filename:     utils.StorageFilename(now, in.FileName),
		OriginalName: in.FileName,
		MimeType:     mimeType,
		Size:         in.FileSize,
		Folder:       in.Folder,
		Category:     utils.FileCategory(mimeType),
		CreatedAt:    now,
		IsChunked:    true,
		TotalChunks:  len(payload),
		Chunks:       payload,
	}

	if err := s.catalog.CreateObject(ctx, obj); err != nil {
		return nil, apperror.NewTransportFailure("Failed to finalize upload", err)
	}

	ok, err := s.catalog.HasObject(ctx, obj.ID)
	if err != nil || !ok {
		if err == nil {
			err = errors.New("object is missing after write")
		}
		return nil, apperror.NewTransportFailure("Failed to finalize upload", err)
	}

	s.dropChunks(ctx, in.UploadID)

	s.logger.InfoContext(ctx, "upload finalized", "uploadId", in.UploadID, "fileId", obj.ID, "size", in.FileSize)
	return &FinalizeResult{ID: obj.ID, Filename: obj.Filename}, nil
}

// complete проверяет полноту набора отсортированных чанков
func (s *Service) complete(chunks []metastore.ChunkRecord, total int) bool {
	if len(chunks) != total {
		return false
	}
	if !s.opts.StrictIndexCheck {
		return true
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			return false
		}
	}
	return true
}

// dropChunks удаляет чанки собранной сессии; ошибка только логируется,
// остатки подберет janitor
func (s *Service) dropChunks(ctx context.Context, uploadID string) {
	deleted, err := s.chunks.DeleteChunks(ctx, uploadID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to delete finalized chunks", "uploadId", uploadID, "error", err)
		return
	}
	if deleted > 0 {
		s.logger.DebugContext(ctx, "finalized chunks deleted", "uploadId", uploadID, "deletedChunks", deleted)
	}
}
