package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

// AskResponse is the answer to a question. ChatID is set by /chat/ask and
// names the chat the exchange was recorded in.
type AskResponse struct {
	Answer   string `json:"answer"`
	ChatID   string `json:"chat_id,omitempty"`
	Question string `json:"question,omitempty"`
}

type ChatPage struct {
	Chats []chatapi.Chat `json:"chats"`
	Total int            `json:"total,omitempty"`
}

type MessagePage struct {
	ChatID   string            `json:"chat_id,omitempty"`
	Messages []chatapi.Message `json:"messages"`
	Total    int               `json:"total,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
	ChatID   string `json:"chat_id,omitempty"`
}

type createChatRequest struct {
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ask posts a stateless question.
func (c *Client) Ask(ctx context.Context, question string) (*AskResponse, error) {
	const op = "ask"
	if strings.TrimSpace(question) == "" {
		return nil, validationError(op, "question is empty")
	}
	r, err := c.jsonRequest(op, http.MethodPost, "/answer", askRequest{Question: question}, "Failed to get answer")
	if err != nil {
		return nil, err
	}
	var resp AskResponse
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	if resp.Answer == "" {
		return nil, &Error{Kind: KindParse, Op: op, Message: "response has no answer"}
	}
	return &resp, nil
}

// AskWithChat posts a question into chatID, or into a new chat when chatID
// is empty.
func (c *Client) AskWithChat(ctx context.Context, question, chatID string) (*AskResponse, error) {
	const op = "ask_with_chat"
	if strings.TrimSpace(question) == "" {
		return nil, validationError(op, "question is empty")
	}
	r, err := c.jsonRequest(op, http.MethodPost, "/chat/ask", askRequest{Question: question, ChatID: chatID}, "Failed to get chat response")
	if err != nil {
		return nil, err
	}
	var resp AskResponse
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, err
	}
	if resp.Answer == "" {
		return nil, &Error{Kind: KindParse, Op: op, Message: "response has no answer"}
	}
	if resp.ChatID == "" {
		resp.ChatID = chatID
	}
	return &resp, nil
}

func (c *Client) ListChats(ctx context.Context, limit, offset int) (*ChatPage, error) {
	var page ChatPage
	err := c.do(ctx, request{
		op:       "list_chats",
		method:   http.MethodGet,
		path:     "/chats",
		query:    pageQuery(limit, offset),
		fallback: "Failed to get chats",
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) CreateChat(ctx context.Context, title string, metadata map[string]any) (*chatapi.Chat, error) {
	const op = "create_chat"
	r, err := c.jsonRequest(op, http.MethodPost, "/chats", createChatRequest{Title: title, Metadata: metadata}, "Failed to create chat")
	if err != nil {
		return nil, err
	}
	var chat chatapi.Chat
	if err := c.do(ctx, r, &chat); err != nil {
		return nil, err
	}
	if chat.ID == "" {
		return nil, &Error{Kind: KindParse, Op: op, Message: "response has no chat id"}
	}
	return &chat, nil
}

func (c *Client) GetChat(ctx context.Context, chatID string) (*chatapi.Chat, error) {
	const op = "get_chat"
	if chatID == "" {
		return nil, validationError(op, "chat id is empty")
	}
	var chat chatapi.Chat
	err := c.do(ctx, request{
		op:       op,
		method:   http.MethodGet,
		path:     "/chats/" + chatID,
		fallback: "Failed to get chat details",
	}, &chat)
	if err != nil {
		return nil, err
	}
	if chat.ID == "" {
		chat.ID = chatID
	}
	return &chat, nil
}

func (c *Client) GetChatMessages(ctx context.Context, chatID string, limit, offset int) (*MessagePage, error) {
	const op = "get_chat_messages"
	if chatID == "" {
		return nil, validationError(op, "chat id is empty")
	}
	var page MessagePage
	err := c.do(ctx, request{
		op:       op,
		method:   http.MethodGet,
		path:     "/chats/" + chatID + "/messages",
		query:    pageQuery(limit, offset),
		fallback: "Failed to get chat messages",
	}, &page)
	if err != nil {
		return nil, err
	}
	if page.ChatID == "" {
		page.ChatID = chatID
	}
	for i := range page.Messages {
		if page.Messages[i].ChatID == "" {
			page.Messages[i].ChatID = chatID
		}
	}
	return &page, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	const op = "delete_chat"
	if chatID == "" {
		return validationError(op, "chat id is empty")
	}
	return c.do(ctx, request{
		op:       op,
		method:   http.MethodDelete,
		path:     "/chats/" + chatID,
		fallback: "Failed to delete chat",
	}, nil)
}

func (c *Client) ChatStats(ctx context.Context) (*chatapi.ChatStats, error) {
	var stats chatapi.ChatStats
	err := c.do(ctx, request{
		op:       "chat_stats",
		method:   http.MethodGet,
		path:     "/chat/stats",
		fallback: "Failed to get chat statistics",
	}, &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health returns the decoded health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	err := c.do(ctx, request{
		op:       "health",
		method:   http.MethodGet,
		path:     "/health",
		fallback: "Health check failed",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	q.Set("offset", strconv.Itoa(max(offset, 0)))
	return q
}
