package apiclient

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
)

// ProgressFunc receives the upload fraction in [0,1] as the body is sent.
type ProgressFunc func(fraction float64)

// Upload sends a file as a multipart form to path, reporting progress as the
// body goes out. The multipart body is buffered up front so the one
// refresh-retry can replay it; uploads are size-capped by the caller, so the
// buffer stays small.
func (c *Client) Upload(ctx context.Context, path, field, fileName string, file io.Reader, progress ProgressFunc) (*Response, error) {
	return c.UploadForm(ctx, path, nil, field, fileName, file, progress)
}

// UploadForm is Upload with extra plain form fields alongside the file.
// file may be nil for a fields-only form.
func (c *Client) UploadForm(ctx context.Context, path string, fields map[string]string, field, fileName string, file io.Reader, progress ProgressFunc) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile(field, fileName)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	payload := buf.Bytes()
	send := func() (*Response, error) {
		body := &progressReader{
			r:        bytes.NewReader(payload),
			total:    int64(len(payload)),
			progress: progress,
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.ContentLength = int64(len(payload))
		return c.roundTrip(req)
	}
	return c.withAuthRetry(ctx, send)
}

type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.progress != nil && p.total > 0 {
		p.read += int64(n)
		p.progress(float64(p.read) / float64(p.total))
	}
	return n, err
}
