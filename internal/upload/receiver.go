// Package upload reads a single multipart file field into memory.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	contextKey = "upload.file"

	// formOverhead is the slack allowed on top of the file limit for
	// boundaries, part headers and small text fields.
	formOverhead = 64 << 10
)

// File is an uploaded file held entirely in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ErrTooLarge is reported when the file exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Receive parses the multipart body and stores the file found under field in
// the request context. Oversized uploads are rejected with 413 before the
// next handler runs. A request without the field passes through untouched so
// the handler decides how to answer it.
func Receive(field string, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxSize + formOverhead
		if c.Request.ContentLength > limit {
			abortTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

		file, err := read(c.Request, field, maxSize)
		switch {
		case errors.Is(err, ErrTooLarge):
			abortTooLarge(c)
			return
		case err != nil:
			_ = c.Error(err)
		case file != nil:
			c.Set(contextKey, file)
		}

		c.Next()
	}
}

// FromContext returns the file stored by Receive.
func FromContext(c *gin.Context) (*File, bool) {
	v, exists := c.Get(contextKey)
	if !exists {
		return nil, false
	}
	f, ok := v.(*File)
	return f, ok && f != nil
}

func read(r *http.Request, field string, maxSize int64) (*File, error) {
	if err := r.ParseMultipartForm(maxSize + formOverhead); err != nil {
		if isBodyTooLarge(err) {
			return nil, ErrTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	header := headers[0]
	if header.Size > maxSize {
		return nil, ErrTooLarge
	}

	data, err := readPart(header, maxSize)
	if err != nil {
		return nil, err
	}

	return &File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readPart(header *multipart.FileHeader, maxSize int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	// mime/multipart does not always wrap the reader error.
	return strings.Contains(err.Error(), "request body too large")
}

func abortTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
}
