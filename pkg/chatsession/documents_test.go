package chatsession

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/gateway"
	"github.com/go-go-golems/docchat/pkg/remotetest"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newDocuments(t *testing.T) (*Documents, *remotetest.Server) {
	t.Helper()
	srv := remotetest.New()
	t.Cleanup(srv.Close)
	gw, err := gateway.New(srv.URL)
	require.NoError(t, err)
	return NewDocuments(gw), srv
}

func TestDocumentsLoadAndUpload(t *testing.T) {
	d, srv := newDocuments(t)
	srv.SeedDocument(chatapi.Document{Filename: "old.pdf", Size: 10})
	require.NoError(t, d.Load(context.Background()))
	require.Len(t, d.Items(), 1)

	path := writeFile(t, "report.pdf", "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	doc, err := d.Upload(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", doc.Filename)
	require.NoError(t, d.Err())

	items := d.Items()
	require.Len(t, items, 2)
	require.Equal(t, "report.pdf", items[1].Filename)
	require.Len(t, srv.Documents(), 2)
}

func TestDocumentsUploadRejectsNonPDFWithoutRequest(t *testing.T) {
	d, srv := newDocuments(t)
	path := writeFile(t, "notes.txt", "just text")

	_, err := d.Upload(context.Background(), path)
	require.Error(t, err)
	require.True(t, gateway.IsValidation(err))
	require.Contains(t, err.Error(), "Only PDF files are supported")
	require.Equal(t, 0, srv.Requests("POST /upload"))
	require.Empty(t, d.Items())
}

func TestDocumentsRemoveIsAlwaysLocal(t *testing.T) {
	d, srv := newDocuments(t)
	srv.SeedDocument(chatapi.Document{Filename: "a.pdf"})
	srv.SeedDocument(chatapi.Document{Filename: "b.pdf"})
	require.NoError(t, d.Load(context.Background()))

	require.NoError(t, d.Remove(context.Background(), "a.pdf"))
	require.Len(t, srv.Documents(), 1)

	srv.Fail("DELETE /documents/b.pdf", remotetest.Failure{Status: 500, Message: "disk error"})
	err := d.Remove(context.Background(), "b.pdf")
	require.True(t, gateway.IsServer(err))
	require.Empty(t, d.Items())
	require.Len(t, srv.Documents(), 1)
}
