package gateway_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chatapi"
	"github.com/go-go-golems/docchat/pkg/gateway"
	"github.com/go-go-golems/docchat/pkg/remotetest"
)

func newClient(t *testing.T, opts ...gateway.Option) (*gateway.Client, *remotetest.Server) {
	t.Helper()
	srv := remotetest.New()
	t.Cleanup(srv.Close)
	c, err := gateway.New(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c, srv
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := gateway.New("ftp://example.com")
	require.Error(t, err)
	_, err = gateway.New("::not a url")
	require.Error(t, err)

	c, err := gateway.New(" http://localhost:5000/ ")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:5000", c.BaseURL())
}

func TestAskWithChatCreatesChat(t *testing.T) {
	c, srv := newClient(t)
	srv.AnswerFunc = func(string, string) string { return "The PDF discusses X." }

	resp, err := c.AskWithChat(context.Background(), "What is in the PDF?", "")
	require.NoError(t, err)
	require.Equal(t, "The PDF discusses X.", resp.Answer)
	require.Equal(t, "c-1", resp.ChatID)

	resp, err = c.AskWithChat(context.Background(), "More?", "c-1")
	require.NoError(t, err)
	require.Equal(t, "c-1", resp.ChatID)

	page, err := c.GetChatMessages(context.Background(), "c-1", 10, -3)
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	require.Equal(t, "c-1", page.Messages[0].ChatID)
	require.Equal(t, chatapi.RoleUser, page.Messages[0].Role)
}

func TestStatelessAsk(t *testing.T) {
	c, _ := newClient(t)
	resp, err := c.Ask(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "Answer: hello", resp.Answer)
	require.Empty(t, resp.ChatID)
}

func TestEmptyQuestionIsValidationError(t *testing.T) {
	c, srv := newClient(t)
	_, err := c.AskWithChat(context.Background(), "  ", "")
	require.True(t, gateway.IsValidation(err))
	_, err = c.Ask(context.Background(), "")
	require.True(t, gateway.IsValidation(err))
	require.Equal(t, 0, srv.Requests("POST /chat/ask"))
	require.Equal(t, 0, srv.Requests("POST /answer"))
}

func TestServerErrorCarriesMessageAndStatus(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail("POST /chat/ask", remotetest.Failure{Status: http.StatusInternalServerError, Message: "model overloaded"})

	_, err := c.AskWithChat(context.Background(), "hi", "")
	require.True(t, gateway.IsServer(err))
	require.Equal(t, http.StatusInternalServerError, gateway.StatusOf(err))
	var ge *gateway.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "model overloaded", ge.Message)
	require.Equal(t, "ask_with_chat", ge.Op)

	_, err = c.GetChat(context.Background(), "nope")
	require.True(t, gateway.IsServer(err))
	require.Equal(t, http.StatusNotFound, gateway.StatusOf(err))
	require.Contains(t, err.Error(), "Chat not found")
}

func TestServerErrorWithoutBodyUsesFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)
	c, err := gateway.New(ts.URL)
	require.NoError(t, err)

	_, err = c.ListChats(context.Background(), 10, 0)
	var ge *gateway.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, gateway.KindServer, ge.Kind)
	require.Equal(t, "Failed to get chats", ge.Message)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail("GET /chats", remotetest.Failure{})
	_, err := c.ListChats(context.Background(), 10, 0)
	require.True(t, gateway.IsNetwork(err))
	require.Equal(t, 0, gateway.StatusOf(err))
}

func TestTimeoutIsNetworkError(t *testing.T) {
	c, srv := newClient(t, gateway.WithTimeout(50*time.Millisecond))
	srv.Delay = time.Second
	_, err := c.ChatStats(context.Background())
	require.True(t, gateway.IsNetwork(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ChatStats(ctx)
	require.True(t, gateway.IsNetwork(err))
	require.ErrorIs(t, err, context.Canceled)
}

func TestMalformedBodyIsParseError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chats":
			_, _ = w.Write([]byte("<html>oops</html>"))
		case "/chat/ask":
			_, _ = w.Write([]byte(`{"chat_id":"c-1"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(ts.Close)
	c, err := gateway.New(ts.URL)
	require.NoError(t, err)

	_, err = c.ListChats(context.Background(), 10, 0)
	require.True(t, gateway.IsParse(err))
	_, err = c.AskWithChat(context.Background(), "q", "")
	require.True(t, gateway.IsParse(err))
	_, err = c.ChatStats(context.Background())
	require.True(t, gateway.IsParse(err))
	require.NoError(t, c.DeleteChat(context.Background(), "c-1"))
}

func TestChatLifecycle(t *testing.T) {
	c, _ := newClient(t)
	chat, err := c.CreateChat(context.Background(), "Notes", map[string]any{"source": "cli"})
	require.NoError(t, err)
	require.Equal(t, "Notes", chat.Title)

	got, err := c.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Equal(t, "cli", got.Metadata["source"])

	page, err := c.ListChats(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Chats, 1)
	require.Equal(t, 1, page.Total)

	stats, err := c.ChatStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalChats)

	require.NoError(t, c.DeleteChat(context.Background(), chat.ID))
	_, err = c.GetChat(context.Background(), chat.ID)
	require.Equal(t, http.StatusNotFound, gateway.StatusOf(err))

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", health["status"])
}

func TestUploadPolicy(t *testing.T) {
	p := gateway.DefaultUploadPolicy()
	require.NoError(t, p.Validate(gateway.UploadFile{Name: "a.PDF", Size: 10, ContentType: "application/pdf"}))

	err := p.Validate(gateway.UploadFile{Name: "big.pdf", Size: 17 * 1024 * 1024, ContentType: "application/pdf"})
	require.True(t, gateway.IsValidation(err))
	require.Contains(t, err.Error(), "File too large. Maximum size is 16MB")

	err = p.Validate(gateway.UploadFile{Name: "a.pdf", Size: 10, ContentType: "text/plain"})
	require.Contains(t, err.Error(), "Only PDF files are supported")
	err = p.Validate(gateway.UploadFile{Name: "a.txt", Size: 10, ContentType: "application/pdf"})
	require.Contains(t, err.Error(), "Only PDF files are supported")
}

func TestUploadAndDocuments(t *testing.T) {
	c, srv := newClient(t)
	body := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	res, err := c.Upload(context.Background(), gateway.UploadFile{
		Name:        "paper.pdf",
		Size:        int64(len(body)),
		ContentType: "application/pdf",
		Content:     bytes.NewReader(body),
	})
	require.NoError(t, err)
	require.Equal(t, "paper.pdf", res.Filename)
	require.Equal(t, 1, srv.Requests("POST /upload"))

	_, err = c.Upload(context.Background(), gateway.UploadFile{
		Name:        "huge.pdf",
		Size:        64 << 20,
		ContentType: "application/pdf",
		Content:     strings.NewReader(""),
	})
	require.True(t, gateway.IsValidation(err))
	require.Equal(t, 1, srv.Requests("POST /upload"))

	docs, err := c.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "paper.pdf", docs[0].Filename)

	require.NoError(t, c.DeleteDocument(context.Background(), "paper.pdf"))
	err = c.DeleteDocument(context.Background(), "paper.pdf")
	require.Equal(t, http.StatusNotFound, gateway.StatusOf(err))
	require.True(t, gateway.IsValidation(c.DeleteDocument(context.Background(), "")))
}
