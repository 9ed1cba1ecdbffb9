// This file implements request decoding shared by the API handlers.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	maxJSONBody   = 1 << 20  // 1 MiB
	maxUploadBody = 10 << 20 // 10 MiB
	uploadField   = "file"
)

var errMissingFile = errors.New("file is required")

// DecodeJSON reads a single JSON object from the request body into dst.
// Unknown fields are rejected so typos surface as errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// Upload is a file received from a multipart form.
type Upload struct {
	Filename string
	File     multipart.File
}

// ParseUpload extracts the "file" part of a multipart request. The caller
// closes Upload.File.
func ParseUpload(w http.ResponseWriter, r *http.Request) (Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		return Upload{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return Upload{}, errMissingFile
	}

	name := sanitizeFilename(header.Filename)
	if name == "" {
		name = "upload"
	}
	return Upload{Filename: name, File: file}, nil
}

// sanitizeFilename keeps the base name and drops control characters.
func sanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == '"' {
			return -1
		}
		return r
	}, s)
}
