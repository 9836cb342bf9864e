package upload

import (
	"context"
	"errors"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/metastore"
	"github.com/Gammanik/chunked-storage/internal/utils"
)

// ChunkInput один чанк от клиента
type ChunkInput struct {
	UploadID    string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	Folder      string
	Data        []byte
	Checksum    string // Необязательный SHA-256 от клиента
}

// ChunkAck подтверждение приема чанка
type ChunkAck struct {
	ChunkIndex  int
	TotalChunks int
	Replaced    bool
}

func (in ChunkInput) validate() error {
	if in.UploadID == "" || in.FileName == "" || in.Folder == "" || len(in.Data) == 0 || in.TotalChunks == 0 {
		return apperror.NewInvalidInput("Missing required parameters")
	}
	if in.TotalChunks < 0 {
		return apperror.NewInvalidInput("totalChunks must be positive")
	}
	if in.ChunkIndex < 0 || in.ChunkIndex >= in.TotalChunks {
		return apperror.NewInvalidInput("chunkIndex out of range").
			WithDetail("chunkIndex", in.ChunkIndex).
			WithDetail("totalChunks", in.TotalChunks)
	}
	return nil
}

// PutChunk проверяет и сохраняет один чанк сессии. Повторная отправка того же
// индекса заменяет прежнее содержимое.
func (s *Service) PutChunk(ctx context.Context, in ChunkInput) (*ChunkAck, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if int64(len(in.Data)) > s.opts.MaxChunkSize {
		return nil, apperror.NewSizeExceeded("Chunk too large", s.opts.MaxChunkSize)
	}

	checksum := utils.CalculateSHA256(in.Data)
	if in.Checksum != "" && in.Checksum != checksum {
		return nil, apperror.NewInvalidInput("Checksum mismatch").
			WithDetail("expected", in.Checksum).
			WithDetail("actual", checksum)
	}

	unlock := s.locks.Lock(in.UploadID)
	defer unlock()

	session, err := s.chunks.GetSession(ctx, in.UploadID)
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		session = nil
	case err != nil:
		return nil, apperror.NewInternal("Failed to read upload session", err)
	}

	if session != nil {
		if session.TotalChunks != in.TotalChunks {
			return nil, apperror.NewInvalidInput("totalChunks does not match upload session").
				WithDetail("expected", session.TotalChunks).
				WithDetail("got", in.TotalChunks)
		}
		if session.Bytes+int64(len(in.Data)) > s.opts.MaxObjectSize {
			return nil, s.errTooLarge()
		}
	}

	replaced, err := s.chunks.PutChunk(ctx, metastore.ChunkRecord{
		UploadID:    in.UploadID,
		ChunkIndex:  in.ChunkIndex,
		TotalChunks: in.TotalChunks,
		FileName:    in.FileName,
		Folder:      in.Folder,
		Data:        in.Data,
		Checksum:    checksum,
		UploadedAt:  s.clock.Now(),
	})
	if err != nil {
		return nil, apperror.NewTransportFailure("Failed to store chunk", err)
	}

	s.logger.DebugContext(ctx, "chunk stored",
		"uploadId", in.UploadID,
		"chunk", in.ChunkIndex+1,
		"totalChunks", in.TotalChunks,
		"bytes", len(in.Data),
		"replaced", replaced,
	)

	return &ChunkAck{ChunkIndex: in.ChunkIndex, TotalChunks: in.TotalChunks, Replaced: replaced}, nil
}

// Status возвращает принятые индексы открытой сессии
func (s *Service) Status(ctx context.Context, uploadID string) (*metastore.SessionInfo, error) {
	if uploadID == "" {
		return nil, apperror.NewInvalidInput("Missing uploadId")
	}

	info, err := s.chunks.GetSession(ctx, uploadID)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, apperror.NewNotFound("Upload session not found")
	}
	if err != nil {
		return nil, apperror.NewInternal("Failed to read upload session", err)
	}
	return info, nil
}

// Cleanup удаляет все чанки сессии. Операция идемпотентна и не трогает каталог.
func (s *Service) Cleanup(ctx context.Context, uploadID string) (int, error) {
	if uploadID == "" {
		return 0, apperror.NewInvalidInput("Missing uploadId")
	}

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	deleted, err := s.chunks.DeleteChunks(ctx, uploadID)
	if err != nil {
		return 0, apperror.NewTransportFailure("Failed to cleanup upload", err)
	}

	s.logger.InfoContext(ctx, "upload cleaned up", "uploadId", uploadID, "deletedChunks", deleted)
	return deleted, nil
}
