// Package chunker нарезает поток на последовательные части ограниченного размера.
package chunker

import (
	"errors"
	"io"

	"github.com/Gammanik/chunked-storage/internal/utils"
)

// ErrInvalidSize возвращается при неположительном размере чанка
var ErrInvalidSize = errors.New("chunker: chunk size must be positive")

// ChunkReader читает поток чанками фиксированного размера.
// Все чанки, кроме последнего, имеют ровно size байт.
type ChunkReader struct {
	r     io.Reader
	size  int64
	index int
	done  bool
}

// NewChunkReader создает reader, отдающий чанки размером size
func NewChunkReader(r io.Reader, size int64) *ChunkReader {
	return &ChunkReader{r: r, size: size}
}

// NextChunk возвращает следующий чанк и его SHA-256.
// После последнего чанка возвращает io.EOF.
func (c *ChunkReader) NextChunk() ([]byte, string, error) {
	if c.size <= 0 {
		return nil, "", ErrInvalidSize
	}
	if c.done {
		return nil, "", io.EOF
	}

	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == io.EOF:
		c.done = true
		return nil, "", io.EOF
	case err == io.ErrUnexpectedEOF:
		// короткий хвост
		c.done = true
	case err != nil:
		return nil, "", err
	}

	chunk := buf[:n]
	c.index++
	return chunk, utils.CalculateSHA256(chunk), nil
}

// Index количество уже отданных чанков, то есть индекс следующего
func (c *ChunkReader) Index() int {
	return c.index
}

// Count число чанков для объекта размера total: ceil(total/size).
// Пустой объект дает 0.
func Count(total, size int64) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + size - 1) / size)
}

// Split нарезает буфер на срезы не длиннее size без копирования
func Split(data []byte, size int64) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}

	parts := make([][]byte, 0, Count(int64(len(data)), size))
	for start := int64(0); start < int64(len(data)); start += size {
		end := start + size
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		parts = append(parts, data[start:end])
	}
	return parts
}
