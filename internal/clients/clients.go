// Package clients talks to the directory service over its public HTTP API.
// DirectoryClient implements identity.Directory, so a Resolver can publish
// presence through it without knowing about transports or tokens.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/monitor111/pwa-chat/internal/directory"
	"github.com/monitor111/pwa-chat/internal/identity"
	"github.com/monitor111/pwa-chat/internal/model"
)

type DirectoryClient struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sessionResponse struct {
	Token string               `json:"token"`
	User  model.PresenceRecord `json:"user"`
}

// OpenSession announces the resolved identity to the directory and receives
// the device token used for all later writes. online=false authenticates
// without marking the record online, for flows that are about to go quiet.
func (c *DirectoryClient) OpenSession(ctx context.Context, id, name string, online bool) (model.PresenceRecord, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/v1/sessions",
		map[string]interface{}{"id": id, "name": name, "online": online}, &resp)
	if err != nil {
		return model.PresenceRecord{}, err
	}
	c.token = resp.Token
	return resp.User, nil
}

// Upsert implements identity.Directory. Online transitions go through the
// presence endpoint; a name-only change uses the rename endpoint.
func (c *DirectoryClient) Upsert(ctx context.Context, id string, fields identity.Fields) error {
	if fields.Online != nil {
		body := map[string]interface{}{"online": *fields.Online}
		if fields.DisplayName != nil {
			body["name"] = *fields.DisplayName
		}
		return c.do(ctx, http.MethodPut, "/v1/presence/"+url.PathEscape(id), body, nil)
	}
	if fields.DisplayName != nil {
		body := map[string]string{"name": *fields.DisplayName}
		return c.do(ctx, http.MethodPatch, "/v1/users/"+url.PathEscape(id)+"/name", body, nil)
	}
	return nil
}

func (c *DirectoryClient) ListUsers(ctx context.Context) ([]model.PresenceRecord, error) {
	var resp struct {
		Users []model.PresenceRecord `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *DirectoryClient) GetUser(ctx context.Context, id string) (model.PresenceRecord, error) {
	var record model.PresenceRecord
	err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, &record)
	return record, err
}

// DeleteUser performs the full sign-out: the presence record is destroyed.
func (c *DirectoryClient) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(id), nil, nil)
}

func (c *DirectoryClient) SendMessage(ctx context.Context, from, to, text, image string) (model.Message, error) {
	chatID := ChatID(from, to)
	var msg model.Message
	err := c.do(ctx, http.MethodPost, "/v1/chats/"+url.PathEscape(chatID)+"/messages",
		map[string]string{"to": to, "text": text, "image": image}, &msg)
	return msg, err
}

func (c *DirectoryClient) ListMessages(ctx context.Context, me, peer string, after time.Time, limit int) ([]model.Message, error) {
	chatID := ChatID(me, peer)
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages"
	query := url.Values{}
	// The server re-derives the chat id from the caller and its peer; reads
	// without the peer are rejected.
	query.Set("peer", peer)
	if !after.IsZero() {
		query.Set("after", after.Format(time.RFC3339Nano))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Subscribe opens the WebSocket event feed and delivers events until ctx is
// cancelled or the connection drops.
func (c *DirectoryClient) Subscribe(ctx context.Context) (<-chan directory.Event, error) {
	wsURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/v1/events"
	wsURL.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	events := make(chan directory.Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			var event directory.Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

type apiError struct {
	status int
	code   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("directory: %s (http %d)", e.code, e.status)
}

func (c *DirectoryClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{status: resp.StatusCode, code: errBody.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ChatID mirrors the server's canonical 1:1 chat id: sorted pair joined with
// an underscore.
func ChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}
