package attachment

import (
	"bytes"
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/metrics"
	"github.com/chatgenie/chatgenie/model"
)

// File is an attachment to upload. Its data is never consumed, so a failed upload can be retried with the
// same value.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Uploader struct {
	Blobs BlobStore
}

// SanitizeFileName reduces a file name to its base name made of letters, digits, dots, dashes and
// underscores.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if strings.Trim(sanitized, ".") == "" {
		return "file"
	}
	return sanitized
}

// Path returns a new storage path for a file within a scope. Paths never collide, even for identical
// names in one scope.
func Path(scopeId, fileName string) string {
	return "attachments/" + SanitizeFileName(scopeId) + "/" + string(model.GenerateId()) + "/" + SanitizeFileName(fileName)
}

// Upload stores the file under the given scope (a channel id or conversation id) and returns a reference
// to it.
func (u *Uploader) Upload(ctx context.Context, scopeId string, file File) (string, error) {
	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}

	p := Path(scopeId, file.Name)
	ref, err := u.Blobs.Put(ctx, p, contentType, bytes.NewReader(file.Data))
	if err != nil {
		metrics.Uploads.WithLabelValues("failure").Inc()
		if apperr.IsUpload(err) {
			return "", err
		}
		return "", apperr.Upload(p, err)
	}
	metrics.Uploads.WithLabelValues("success").Inc()
	metrics.UploadedBytes.Add(float64(len(file.Data)))
	return ref, nil
}
