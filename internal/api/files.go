package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Listing bounds enforced by the server.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ErrInvalidPage is returned for page or page size values the server would reject.
var ErrInvalidPage = errors.New("api: invalid page")

// uploadField is the multipart form field carrying the file.
const uploadField = "file"

// ListFiles returns one page of the caller's files. Zero page or pageSize
// select the defaults.
func (c *Client) ListFiles(ctx context.Context, page, pageSize int) (*FileList, error) {
	if page == 0 {
		page = DefaultPage
	}

	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidPage, page)
	}

	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size must be between 1 and %d, got %d", ErrInvalidPage, MaxPageSize, pageSize)
	}

	c.logger.Debug("listing files", slog.Int("page", page), slog.Int("page_size", pageSize))

	resp, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   "/api/files/",
		query: url.Values{
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(pageSize)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("api: listing files: %w", err)
	}
	defer resp.Body.Close()

	var list FileList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("api: decoding file list: %w", err)
	}

	return &list, nil
}

// Upload sends a file as multipart/form-data. open is called once per
// attempt and must return the content from the start each time; the
// returned reader is closed after it has been sent.
func (c *Client) Upload(ctx context.Context, name string, open func() (io.ReadCloser, error)) (*UploadResult, error) {
	name = norm.NFC.String(filepath.Base(name))

	c.logger.Info("uploading file", slog.String("name", name))

	boundary := "filebox-" + uuid.NewString()
	partType := mime.TypeByExtension(filepath.Ext(name))

	if partType == "" {
		partType = "application/octet-stream"
	}

	resp, err := c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "/api/files/upload",
		contentType: "multipart/form-data; boundary=" + boundary,
		body: func() (io.ReadCloser, error) {
			return multipartBody(open, boundary, name, partType)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("api: uploading %q: %w", name, err)
	}
	defer resp.Body.Close()

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("api: decoding upload response: %w", err)
	}

	c.logger.Info("upload complete",
		slog.Int64("id", result.ID),
		slog.String("name", result.FileName),
		slog.Int64("size", result.FileSize),
	)

	return &result, nil
}

// quoteEscaper escapes a file name for a Content-Disposition parameter.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody streams a single-file multipart body through a pipe so the
// file is never buffered in memory. The transport closes the reader when
// the request ends, which unblocks the writer goroutine.
func multipartBody(
	open func() (io.ReadCloser, error), boundary, name, partType string,
) (io.ReadCloser, error) {
	src, err := open()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	if err := mw.SetBoundary(boundary); err != nil {
		src.Close()
		return nil, fmt.Errorf("setting multipart boundary: %w", err)
	}

	go func() {
		defer src.Close()

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, quoteEscaper.Replace(name)))
		h.Set("Content-Type", partType)

		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, src)
		}

		if err == nil {
			err = mw.Close()
		}

		pw.CloseWithError(err)
	}()

	return pr, nil
}

// Download streams the content of file id into w.
func (c *Client) Download(ctx context.Context, id int64, w io.Writer) (*Download, error) {
	c.logger.Info("downloading file", slog.Int64("id", id))

	resp, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/files/%d/download", id),
	})
	if err != nil {
		return nil, fmt.Errorf("api: downloading file %d: %w", id, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: streaming file %d: %w", id, err)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return nil, fmt.Errorf("api: file %d truncated: got %d of %d bytes", id, n, resp.ContentLength)
	}

	d := &Download{
		FileName:    dispositionFileName(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Bytes:       n,
	}

	c.logger.Debug("download complete",
		slog.Int64("id", id),
		slog.Int64("bytes_written", n),
	)

	return d, nil
}

// dispositionFileName extracts the file name from a Content-Disposition
// header, honoring the RFC 5987 filename* form. Only the base name is kept.
func dispositionFileName(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	name := params["filename"]
	if name == "" {
		return ""
	}

	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}

	return base
}

// DeleteFile deletes file id.
func (c *Client) DeleteFile(ctx context.Context, id int64) (*DeleteResult, error) {
	c.logger.Info("deleting file", slog.Int64("id", id))

	resp, err := c.do(ctx, &request{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/api/files/%d", id),
	})
	if err != nil {
		return nil, fmt.Errorf("api: deleting file %d: %w", id, err)
	}
	defer resp.Body.Close()

	var result DeleteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("api: decoding delete response: %w", err)
	}

	return &result, nil
}
