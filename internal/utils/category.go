package utils

import "strings"

// Категории файлов в каталоге
const (
	CategoryImage        = "image"
	CategoryAudio        = "audio"
	CategoryVideo        = "video"
	CategoryDocument     = "document"
	CategoryPresentation = "presentation"
	CategoryOther        = "other"
)

// DefaultMimeType используется, когда клиент не прислал тип
const DefaultMimeType = "application/octet-stream"

// FileCategory определяет категорию по MIME типу.
// Порядок проверок важен: "vnd.openxmlformats-officedocument.presentationml"
// содержит "document", поэтому считается документом.
func FileCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.Contains(mimeType, "pdf"):
		return CategoryDocument
	case strings.Contains(mimeType, "word"), strings.Contains(mimeType, "document"):
		return CategoryDocument
	case strings.Contains(mimeType, "sheet"), strings.Contains(mimeType, "excel"):
		return CategoryDocument
	case strings.Contains(mimeType, "presentation"), strings.Contains(mimeType, "powerpoint"):
		return CategoryPresentation
	default:
		return CategoryOther
	}
}
