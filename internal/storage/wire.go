package storage

import "time"

// ErrorResponse тело ответа с ошибкой. Details либо строка с причиной,
// либо объект с диагностическими полями.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// ChunkResponse ответ на POST /api/upload-chunk
type ChunkResponse struct {
	Message     string `json:"message"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Replaced    bool   `json:"replaced"`
}

// FinalizeRequest тело POST /api/finalize-upload
type FinalizeRequest struct {
	UploadID    string `json:"uploadId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	Folder      string `json:"folder"`
	TotalChunks int    `json:"totalChunks"`
}

// FileResponse ответ на финализацию и прямую загрузку
type FileResponse struct {
	Message  string `json:"message"`
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
}

// CleanupRequest тело POST /api/cleanup-upload
type CleanupRequest struct {
	UploadID string `json:"uploadId"`
}

// CleanupResponse ответ на очистку сессии
type CleanupResponse struct {
	Message       string `json:"message"`
	DeletedChunks int    `json:"deletedChunks"`
}

// MessageResponse ответ без данных
type MessageResponse struct {
	Message string `json:"message"`
}

// FileInfo элемент списка GET /api/files
type FileInfo struct {
	ID           string    `json:"_id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	Folder       string    `json:"folder"`
	Category     string    `json:"category"`
	UploadDate   time.Time `json:"uploadDate"`
}

// SessionResponse ответ GET /api/uploads/{uploadId}
type SessionResponse struct {
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
