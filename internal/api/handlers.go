package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Gammanik/chunked-storage/internal/apperror"
	"github.com/Gammanik/chunked-storage/internal/metastore"
	"github.com/Gammanik/chunked-storage/internal/storage"
	"github.com/Gammanik/chunked-storage/internal/upload"
)

// multipartMemory часть формы, которая держится в памяти; остальное уходит во временные файлы
const multipartMemory = 32 << 20

// formOverhead запас на поля формы поверх полезной нагрузки
const formOverhead = 1 << 20

// Uploads операции сервера хранения, которые обслуживают обработчики
type Uploads interface {
	PutChunk(ctx context.Context, in upload.ChunkInput) (*upload.ChunkAck, error)
	Status(ctx context.Context, uploadID string) (*metastore.SessionInfo, error)
	Finalize(ctx context.Context, in upload.FinalizeInput) (*upload.FinalizeResult, error)
	Cleanup(ctx context.Context, uploadID string) (int, error)
	StoreDirect(ctx context.Context, in upload.DirectInput) (*upload.DirectResult, error)
	Open(ctx context.Context, id string) (*upload.Content, error)
	List(ctx context.Context, folder string) ([]metastore.StoredObject, error)
	Delete(ctx context.Context, id string) error
}

// FileHandler обрабатывает запросы для файлов
type FileHandler struct {
	Uploads       Uploads
	MaxChunkSize  int64
	MaxObjectSize int64
	Logger        *slog.Logger
}

func (h *FileHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// UploadChunk принимает один чанк сессии загрузки
func (h *FileHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxChunkSize+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(ctx, h.logger(), w, formError(err, h.MaxChunkSize))
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, _, err := readFormFile(r, "chunk")
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	// отсутствующее число дает 0, что сервис считает пропущенным параметром
	chunkIndex, errIndex := strconv.Atoi(r.FormValue("chunkIndex"))
	totalChunks, errTotal := strconv.Atoi(r.FormValue("totalChunks"))
	if errIndex != nil || errTotal != nil {
		writeError(ctx, h.logger(), w, apperror.NewInvalidInput("Missing required parameters"))
		return
	}

	ack, err := h.Uploads.PutChunk(ctx, upload.ChunkInput{
		UploadID:    r.FormValue("uploadId"),
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		FileName:    r.FormValue("fileName"),
		Folder:      r.FormValue("folder"),
		Data:        data,
		Checksum:    r.FormValue("checksum"),
	})
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	writeJSON(h.logger(), w, http.StatusOK, storage.ChunkResponse{
		Message:     "Chunk uploaded successfully",
		ChunkIndex:  ack.ChunkIndex,
		TotalChunks: ack.TotalChunks,
		Replaced:    ack.Replaced,
	})
}

// FinalizeUpload собирает объект из принятых чанков
func (h *FileHandler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req storage.FinalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	res, err := h.Uploads.Finalize(ctx, upload.FinalizeInput{
		UploadID:    req.UploadID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		MimeType:    req.MimeType,
		Folder:      req.Folder,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	writeJSON(h.logger(), w, http.StatusOK, storage.FileResponse{
		Message:  "Upload finalized successfully",
		FileID:   res.ID,
		Filename: res.Filename,
	})
}

// CleanupUpload удаляет чанки незавершенной сессии
func (h *FileHandler) CleanupUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req storage.CleanupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	deleted, err := h.Uploads.Cleanup(ctx, req.UploadID)
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	writeJSON(h.logger(), w, http.StatusOK, storage.CleanupResponse{
		Message:       "Upload cleaned up successfully",
		DeletedChunks: deleted,
	})
}

// UploadStatus возвращает принятые индексы открытой сессии
func (h *FileHandler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.Uploads.Status(ctx, mux.Vars(r)["uploadId"])
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	writeJSON(h.logger(), w, http.StatusOK, storage.SessionResponse{
		UploadID:    info.UploadID,
		FileName:    info.FileName,
		Folder:      info.Folder,
		TotalChunks: info.TotalChunks,
		Received:    info.Received,
		Indices:     info.Indices,
		Bytes:       info.Bytes,
		FirstSeen:   info.FirstSeen,
		LastSeen:    info.LastSeen,
	})
}

// UploadSingle сохраняет файл, присланный одним запросом
func (h *FileHandler) UploadSingle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxObjectSize+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(ctx, h.logger(), w, formError(err, h.MaxObjectSize))
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, header, err := readFormFile(r, "file")
	if err != nil {
		writeError(ctx, h.logger(), w, apperror.NewInvalidInput("Missing file or folder"))
		return
	}

	res, err := h.Uploads.StoreDirect(ctx, upload.DirectInput{
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Folder:   r.FormValue("folder"),
		Data:     data,
	})
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	writeJSON(h.logger(), w, http.StatusOK, storage.FileResponse{
		Message:  "File uploaded successfully",
		FileID:   res.ID,
		Filename: res.Filename,
	})
}

// Download обрабатывает скачивание файла
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	content, err := h.Uploads.Open(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	// Устанавливаем заголовки для скачивания
	w.Header().Set("Content-Type", content.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", content.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))

	if _, err := w.Write(content.Data); err != nil {
		h.logger().WarnContext(ctx, "failed to write file to response", "error", err)
	}
}

// ListFiles возвращает файлы папки, новые первыми
func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	objects, err := h.Uploads.List(ctx, r.URL.Query().Get("folder"))
	if err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	files := make([]storage.FileInfo, 0, len(objects))
	for _, o := range objects {
		files = append(files, storage.FileInfo{
			ID:           o.ID,
			Filename:     o.Filename,
			OriginalName: o.OriginalName,
			MimeType:     o.MimeType,
			Size:         o.Size,
			Folder:       o.Folder,
			Category:     o.Category,
			UploadDate:   o.CreatedAt,
		})
	}

	writeJSON(h.logger(), w, http.StatusOK, files)
}

// DeleteFile удаляет файл
func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Uploads.Delete(ctx, mux.Vars(r)["id"]); err != nil {
		writeError(ctx, h.logger(), w, err)
		return
	}

	writeJSON(h.logger(), w, http.StatusOK, storage.MessageResponse{Message: "File deleted successfully"})
}

func readFormFile(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, apperror.NewInvalidInput("Missing required parameters")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, apperror.NewInternal("Failed to read upload", err)
	}
	return data, header, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperror.NewInvalidInput("Invalid JSON body").WithDetail("reason", err.Error())
	}
	return nil
}

// formError отличает превышение лимита тела от испорченной формы
func formError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperror.NewSizeExceeded("Request body too large", limit)
	}
	return apperror.NewInvalidInput("Invalid multipart form").WithDetail("reason", err.Error())
}
