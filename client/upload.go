package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
)

// ErrUpload is wrapped by every upload failure.
var ErrUpload = errors.New("client: upload failed")

// UploadError carries the human-readable reason of a failed upload.
type UploadError struct {
	Message string
	Err     error
}

func (e *UploadError) Error() string { return e.Message }

func (e *UploadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpload}
	}
	return []error{ErrUpload, e.Err}
}

// UploadResult is a successful upload.
type UploadResult struct {
	Identifier string `json:"identifier"`
	Filename   string `json:"filename"`
}

// Upload sends a file for a component property. progress, when set, is
// called with the share of the request body sent so far, 0 to 100.
func (c *Client) Upload(ctx context.Context, componentID, property, filename string, file io.Reader, progress func(float64)) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, &UploadError{Message: "Upload failed", Err: err}
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, &UploadError{Message: "Upload failed", Err: err}
	}
	mw.WriteField("componentId", componentID)
	mw.WriteField("property", property)
	if err := mw.Close(); err != nil {
		return nil, &UploadError{Message: "Upload failed", Err: err}
	}

	total := body.Len()
	var r io.Reader = &body
	if progress != nil {
		r = &progressReader{r: &body, total: float64(total), report: progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", r)
	if err != nil {
		return nil, &UploadError{Message: "Upload failed", Err: err}
	}
	req.ContentLength = int64(total)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &UploadError{Message: "Upload aborted", Err: ctx.Err()}
		}
		return nil, &UploadError{Message: "Network error", Err: err}
	}
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
		UploadResult
		Error string `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return nil, &UploadError{Message: out.Error}
		}
		return nil, &UploadError{Message: "Upload failed"}
	}
	if decodeErr != nil {
		return nil, &UploadError{Message: "Invalid response", Err: decodeErr}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "Upload failed"
		}
		return nil, &UploadError{Message: msg}
	}
	return &out.UploadResult, nil
}

type progressReader struct {
	r      io.Reader
	sent   int
	total  float64
	report func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.sent += n
		p.report(float64(p.sent) / p.total * 100)
	}
	return n, err
}
