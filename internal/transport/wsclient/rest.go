package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"assoc-messaging/internal/imtypes"
	"assoc-messaging/internal/transport"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimSuffix(c.cfg.APIURL, "/") + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends a JSON request and decodes a JSON response into out, if out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) GetUserConversations(ctx context.Context, userID string) ([]imtypes.Conversation, error) {
	var out []imtypes.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, name string, participantIDs []string, isGroup bool) (*imtypes.Conversation, error) {
	in := imtypes.CreateConversationRequest{Name: name, ParticipantIDs: participantIDs, IsGroup: isGroup}
	var out imtypes.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]imtypes.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out []imtypes.Message
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, req imtypes.SendMessageRequest) (*imtypes.Message, error) {
	var out imtypes.Message
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(req.ConversationID)+"/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkMessageAsRead(ctx context.Context, messageID string) (*imtypes.MessageReadStatus, error) {
	var out imtypes.MessageReadStatus
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/join", nil, nil, nil)
}

func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/leave", nil, nil, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil, nil, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil, nil)
}

// UploadAttachment posts the file as multipart/form-data under the "file" field.
func (c *Client) UploadAttachment(ctx context.Context, file transport.Upload) (*imtypes.FileInfo, error) {
	if file.Body == nil {
		return nil, fmt.Errorf("upload %s: empty body", file.FileName)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.FileName))
	if file.MimeType != "" {
		header.Set("Content-Type", file.MimeType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return nil, fmt.Errorf("copy upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload", nil), &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out imtypes.FileInfo
	if err := c.roundTrip(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetFileDownloadURL(ctx context.Context, fileID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/url", nil, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// UpdatePresence returns once the gateway has stored the status.
func (c *Client) UpdatePresence(ctx context.Context, status imtypes.PresenceStatus) error {
	in := struct {
		Status imtypes.PresenceStatus `json:"status"`
	}{status}
	return c.do(ctx, http.MethodPut, "/presence", nil, in, nil)
}

func (c *Client) UpdateTypingIndicator(ctx context.Context, conversationID string, isTyping bool) error {
	in := struct {
		IsTyping bool `json:"isTyping"`
	}{isTyping}
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/typing", nil, in, nil)
}

var _ transport.Transport = (*Client)(nil)
