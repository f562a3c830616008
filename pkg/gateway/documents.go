package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

// UploadPolicy limits what Upload accepts. Violations are reported as
// validation errors before any request is made.
type UploadPolicy struct {
	MaxFileSize        int64
	AcceptedMIMETypes  []string
	AcceptedExtensions []string
}

func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxFileSize:        16 * 1024 * 1024,
		AcceptedMIMETypes:  []string{"application/pdf"},
		AcceptedExtensions: []string{".pdf"},
	}
}

// UploadFile is one document ready for upload.
type UploadFile struct {
	Name        string
	Size        int64
	ContentType string
	Content     io.Reader
}

type UploadResult struct {
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type documentList struct {
	Documents []chatapi.Document `json:"documents"`
}

// Validate checks f against the policy.
func (p UploadPolicy) Validate(f UploadFile) error {
	const op = "upload"
	if p.MaxFileSize > 0 && f.Size > p.MaxFileSize {
		return validationError(op, fmt.Sprintf("File too large. Maximum size is %dMB", p.MaxFileSize/(1024*1024)))
	}
	if len(p.AcceptedMIMETypes) > 0 && !slices.Contains(p.AcceptedMIMETypes, f.ContentType) {
		return validationError(op, "Only PDF files are supported")
	}
	if len(p.AcceptedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if !slices.Contains(p.AcceptedExtensions, ext) {
			return validationError(op, "Only PDF files are supported")
		}
	}
	return nil
}

// OpenUploadFile stats and sniffs the file at path. The caller closes the
// returned file.
func OpenUploadFile(path string) (UploadFile, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadFile{}, nil, errors.Wrapf(err, "open %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return UploadFile{}, nil, errors.Wrapf(err, "stat %s", path)
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return UploadFile{}, nil, errors.Wrapf(err, "read %s", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return UploadFile{}, nil, errors.Wrapf(err, "rewind %s", path)
	}
	ct := http.DetectContentType(head[:n])
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return UploadFile{
		Name:        filepath.Base(path),
		Size:        st.Size(),
		ContentType: ct,
		Content:     f,
	}, f, nil
}

// Upload posts f as multipart field "file".
func (c *Client) Upload(ctx context.Context, f UploadFile) (*UploadResult, error) {
	const op = "upload"
	if err := c.upload.Validate(f); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	h.Set("Content-Type", f.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(err, "upload: create form part")
	}
	if _, err := io.Copy(part, f.Content); err != nil {
		return nil, errors.Wrapf(err, "upload: read %s", f.Name)
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "upload: close form")
	}

	var res UploadResult
	err = c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/upload",
		body:        &buf,
		contentType: mw.FormDataContentType(),
		fallback:    "Upload failed",
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Filename == "" {
		res.Filename = f.Name
	}
	return &res, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]chatapi.Document, error) {
	var list documentList
	err := c.do(ctx, request{
		op:       "list_documents",
		method:   http.MethodGet,
		path:     "/documents",
		fallback: "Failed to get documents",
	}, &list)
	if err != nil {
		return nil, err
	}
	return list.Documents, nil
}

func (c *Client) DeleteDocument(ctx context.Context, filename string) error {
	const op = "delete_document"
	if filename == "" {
		return validationError(op, "filename is empty")
	}
	return c.do(ctx, request{
		op:       op,
		method:   http.MethodDelete,
		path:     "/documents/" + filename,
		fallback: "Failed to delete document",
	}, nil)
}
