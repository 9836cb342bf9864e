package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Gammanik/chunked-storage/internal/apperror"
)

// TokenHeader заголовок с секретом доступа к хранилищу
const TokenHeader = "X-Vault-Token"

// Client интерфейс для взаимодействия с сервером хранения
type Client interface {
	// UploadChunk отправляет один чанк сессии загрузки
	UploadChunk(ctx context.Context, req ChunkRequest) (*ChunkResponse, error)

	// FinalizeUpload просит сервер собрать объект из чанков
	FinalizeUpload(ctx context.Context, req FinalizeRequest) (*FileResponse, error)

	// CleanupUpload удаляет чанки сессии на сервере
	CleanupUpload(ctx context.Context, uploadID string) (int, error)

	// UploadSingle отправляет небольшой объект одним запросом
	UploadSingle(ctx context.Context, req SingleRequest) (*FileResponse, error)

	// Download пишет содержимое объекта в w
	Download(ctx context.Context, id string, w io.Writer) (int64, error)

	// Delete удаляет объект
	Delete(ctx context.Context, id string) error

	// List возвращает объекты папки
	List(ctx context.Context, folder string) ([]FileInfo, error)
}

// ChunkRequest один чанк для отправки
type ChunkRequest struct {
	UploadID    string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	Folder      string
	Data        []byte
	Checksum    string
}

// SingleRequest объект для прямой загрузки
type SingleRequest struct {
	FileName string
	MimeType string
	Folder   string
	Data     []byte
	Progress func(sent int64) // Вызывается по мере отправки тела
}

// APIError ответ сервера с кодом не 2xx
type APIError struct {
	Status  int
	Message string
	Details any
}

func (e *APIError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("server responded %d: %s (%v)", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("server responded %d: %s", e.Status, e.Message)
}

// Options настройки HTTP клиента
type Options struct {
	Token        string        // Секрет для TokenHeader, пусто не отправляется
	RetryMax     int           // Повторы на запрос, 0 отключает
	RetryWaitMin time.Duration // Минимальная пауза между повторами
	RetryWaitMax time.Duration // Максимальная пауза между повторами
	Timeout      time.Duration // Таймаут одного запроса
	Logger       *slog.Logger
}

// HTTPClient реализация Client поверх go-retryablehttp
type HTTPClient struct {
	client  *retryablehttp.Client
	baseURL string
	token   string
}

var _ Client = (*HTTPClient)(nil)

// New создает новый HTTP клиент для сервера хранения
func New(baseURL string, opts Options) *HTTPClient {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	// последний ответ возвращается как есть, тело ошибки разбирается ниже
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if opts.Logger != nil {
		client.Logger = opts.Logger
	}

	return &HTTPClient{
		client:  client,
		baseURL: baseURL,
		token:   opts.Token,
	}
}

// UploadChunk отправляет чанк как multipart форму
func (c *HTTPClient) UploadChunk(ctx context.Context, req ChunkRequest) (*ChunkResponse, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"chunkIndex", strconv.Itoa(req.ChunkIndex)},
		{"totalChunks", strconv.Itoa(req.TotalChunks)},
		{"fileName", req.FileName},
		{"folder", req.Folder},
		{"uploadId", req.UploadID},
		{"checksum", req.Checksum},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := form.WriteField(f.name, f.value); err != nil {
			return nil, err
		}
	}

	part, err := form.CreateFormFile("chunk", req.FileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/upload-chunk", buf.Bytes())
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	var resp ChunkResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinalizeUpload отправляет запрос на сборку объекта
func (c *HTTPClient) FinalizeUpload(ctx context.Context, req FinalizeRequest) (*FileResponse, error) {
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, "/api/finalize-upload", req)
	if err != nil {
		return nil, err
	}

	var resp FileResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CleanupUpload удаляет чанки сессии и возвращает их число
func (c *HTTPClient) CleanupUpload(ctx context.Context, uploadID string) (int, error) {
	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, "/api/cleanup-upload", CleanupRequest{UploadID: uploadID})
	if err != nil {
		return 0, err
	}

	var resp CleanupResponse
	if err := c.do(httpReq, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedChunks, nil
}

// UploadSingle отправляет объект одной multipart формой
func (c *HTTPClient) UploadSingle(ctx context.Context, req SingleRequest) (*FileResponse, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	if err := form.WriteField("folder", req.Folder); err != nil {
		return nil, err
	}

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name="file"; filename=%q`, req.FileName),
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header["Content-Type"] = []string{mimeType}

	part, err := form.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	body := buf.Bytes()
	bodyFunc := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return &progressReader{r: bytes.NewReader(body), total: int64(len(body)), fn: req.Progress}, nil
	})

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/upload-single", bodyFunc)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	// retryablehttp не знает длину тела из ReaderFunc
	httpReq.ContentLength = int64(len(body))

	var resp FileResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download копирует содержимое объекта в w
func (c *HTTPClient) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/api/download/"+url.PathEscape(id), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, apperror.NewTransportFailure("download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, apperror.NewTransportFailure("download interrupted", err)
	}
	return n, nil
}

// Delete удаляет объект
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	httpReq, err := c.newRequest(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, &MessageResponse{})
}

// List возвращает объекты папки, новые первыми
func (c *HTTPClient) List(ctx context.Context, folder string) ([]FileInfo, error) {
	path := "/api/files?folder=" + url.QueryEscape(folder)
	httpReq, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	if err := c.do(httpReq, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	return req, nil
}

func (c *HTTPClient) newJSONRequest(ctx context.Context, method, path string, payload any) (*retryablehttp.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do выполняет запрос и декодирует JSON ответ в out
func (c *HTTPClient) do(req *retryablehttp.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return apperror.NewTransportFailure(fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.NewTransportFailure("invalid response body", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}
	return &APIError{Status: resp.StatusCode, Message: payload.Error, Details: payload.Details}
}

// progressReader сообщает о количестве прочитанных байт
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.sent)
	}
	return n, err
}
