package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter регистрирует маршруты API. Все пути /api проходят через gate.
func NewRouter(h *FileHandler, gate Gate) *mux.Router {
	if gate == nil {
		gate = OpenGate{}
	}

	logger := h.logger()

	router := mux.NewRouter()
	router.Use(middlewareCorrelationID, middlewareRecoverer(logger), middlewareLogging(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middlewareGate(gate, logger))

	api.HandleFunc("/upload-chunk", h.UploadChunk).Methods(http.MethodPost)
	api.HandleFunc("/finalize-upload", h.FinalizeUpload).Methods(http.MethodPost)
	api.HandleFunc("/cleanup-upload", h.CleanupUpload).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{uploadId}", h.UploadStatus).Methods(http.MethodGet)
	api.HandleFunc("/upload-single", h.UploadSingle).Methods(http.MethodPost)
	api.HandleFunc("/download/{id}", h.Download).Methods(http.MethodGet)
	api.HandleFunc("/files", h.ListFiles).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}", h.DeleteFile).Methods(http.MethodDelete)

	return router
}
