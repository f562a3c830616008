package chatsession

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/gateway"
)

type DocumentClient interface {
	ListDocuments(ctx context.Context) ([]chatapi.Document, error)
	Upload(ctx context.Context, f gateway.UploadFile) (*gateway.UploadResult, error)
	DeleteDocument(ctx context.Context, filename string) error
}

// Documents is the local list of uploaded documents.
type Documents struct {
	gw DocumentClient

	mu    sync.Mutex
	items []chatapi.Document
	err   error
}

func NewDocuments(gw DocumentClient) *Documents {
	return &Documents{gw: gw}
}

func (d *Documents) Load(ctx context.Context) error {
	docs, err := d.gw.ListDocuments(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.err = errors.Wrap(err, "Failed to load files")
		return d.err
	}
	d.err = nil
	d.items = append([]chatapi.Document(nil), docs...)
	return nil
}

// Upload validates and uploads the file at path, then lists it.
func (d *Documents) Upload(ctx context.Context, path string) (chatapi.Document, error) {
	uf, f, err := gateway.OpenUploadFile(path)
	if err != nil {
		return chatapi.Document{}, err
	}
	defer func() { _ = f.Close() }()

	res, err := d.gw.Upload(ctx, uf)
	if err != nil {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		return chatapi.Document{}, err
	}
	doc := chatapi.Document{
		Filename:   res.Filename,
		Size:       uf.Size,
		UploadedAt: chatapi.Timestamp{Time: time.Now().UTC()},
	}
	d.mu.Lock()
	d.err = nil
	replaced := false
	for i, it := range d.items {
		if it.Filename == doc.Filename {
			d.items[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		d.items = append(d.items, doc)
	}
	d.mu.Unlock()
	return doc, nil
}

// Remove deletes filename on the service and always removes it locally. The
// service error, if any, is returned after the local removal.
func (d *Documents) Remove(ctx context.Context, filename string) error {
	err := d.gw.DeleteDocument(ctx, filename)
	if err != nil {
		log.Warn().Err(err).Str("component", "documents").Str("filename", filename).Msg("backend delete failed, removing locally")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.items[:0]
	for _, it := range d.items {
		if it.Filename != filename {
			out = append(out, it)
		}
	}
	d.items = out
	return err
}

func (d *Documents) Items() []chatapi.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chatapi.Document(nil), d.items...)
}

func (d *Documents) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
