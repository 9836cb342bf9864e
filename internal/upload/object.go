package upload

import (
	"bytes"
	"context"
	"errors"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/chunker"
	"github.com/Gammanik/chunked-storage/internal/metastore"
	"github.com/Gammanik/chunked-storage/internal/utils"
)

// Content собранное содержимое объекта для отдачи клиенту
type Content struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// DirectInput объект, присланный одним запросом
type DirectInput struct {
	FileName string
	MimeType string
	Folder   string
	Data     []byte
}

// DirectResult идентификатор записи, созданной прямой загрузкой
type DirectResult struct {
	ID       string
	Filename string
}

// Open читает объект и склеивает его части в исходном порядке
func (s *Service) Open(ctx context.Context, id string) (*Content, error) {
	if id == "" {
		return nil, apperror.NewInvalidInput("File ID required")
	}

	obj, err := s.catalog.GetObject(ctx, id)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, apperror.NewNotFound("File not found")
	}
	if err != nil {
		return nil, apperror.NewInternal("Failed to download file", err)
	}

	data := obj.Data
	if obj.IsChunked {
		data = bytes.Join(obj.Chunks, nil)
	}

	mimeType := obj.MimeType
	if mimeType == "" {
		mimeType = utils.DefaultMimeType
	}

	s.logger.DebugContext(ctx, "object reconstructed",
		"fileId", id,
		"chunked", obj.IsChunked,
		"totalChunks", obj.TotalChunks,
		"bytes", len(data),
	)

	return &Content{
		Name:     obj.OriginalName,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Data:     data,
	}, nil
}

// StoreDirect сохраняет объект, присланный целиком. Объекты больше
// SegmentSize нарезаются на сегменты на стороне сервера.
func (s *Service) StoreDirect(ctx context.Context, in DirectInput) (*DirectResult, error) {
	if in.FileName == "" || in.Folder == "" || in.Data == nil {
		return nil, apperror.NewInvalidInput("Missing file or folder")
	}
	if int64(len(in.Data)) > s.opts.MaxObjectSize {
		return nil, s.errTooLarge()
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = utils.DefaultMimeType
	}

	now := s.clock.Now()
	obj := &metastore.StoredObject{
		Filename:     utils.StorageFilename(now, in.FileName),
		OriginalName: in.FileName,
		MimeType:     mimeType,
		Size:         int64(len(in.Data)),
		Folder:       in.Folder,
		Category:     utils.FileCategory(mimeType),
		CreatedAt:    now,
	}

	if int64(len(in.Data)) > s.opts.SegmentSize {
		obj.IsChunked = true
		obj.Chunks = chunker.Split(in.Data, s.opts.SegmentSize)
		obj.TotalChunks = len(obj.Chunks)
	} else {
		obj.Data = in.Data
	}

	if err := s.catalog.CreateObject(ctx, obj); err != nil {
		return nil, apperror.NewTransportFailure("Upload failed", err)
	}

	s.logger.InfoContext(ctx, "file saved",
		"fileId", obj.ID,
		"fileName", in.FileName,
		"size", obj.Size,
		"chunked", obj.IsChunked,
	)
	return &DirectResult{ID: obj.ID, Filename: obj.Filename}, nil
}

// List возвращает записи папки, новые первыми
func (s *Service) List(ctx context.Context, folder string) ([]metastore.StoredObject, error) {
	if folder == "" {
		return nil, apperror.NewInvalidInput("Folder parameter required")
	}

	objects, err := s.catalog.ListObjects(ctx, folder)
	if err != nil {
		return nil, apperror.NewInternal("Failed to fetch files", err)
	}
	return objects, nil
}

// Delete удаляет запись каталога вместе с содержимым
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperror.NewInvalidInput("File ID required")
	}

	err := s.catalog.DeleteObject(ctx, id)
	if errors.Is(err, metastore.ErrNotFound) {
		return apperror.NewNotFound("File not found")
	}
	if err != nil {
		return apperror.NewTransportFailure("Failed to delete file", err)
	}

	s.logger.InfoContext(ctx, "file deleted", "fileId", id)
	return nil
}
