package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/models"
)

const maxErrorBody = 4 << 10

// entityDocument is the wire shape for requests and responses.
type entityDocument struct {
	ID        string         `json:"id"`
	Data      models.Payload `json:"data"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

type errorDocument struct {
	Error string `json:"error"`
}

// HTTPRemote binds RemoteAPI to a REST service:
//
//	POST   {base}/{entityType}        create
//	PUT    {base}/{entityType}/{id}   update
//	DELETE {base}/{entityType}/{id}   delete
//	GET    {base}/{entityType}/{id}   fetch
//
// A 409 answer is reported as ConflictError carrying the body as remote
// state.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewHTTPRemote builds a client. timeout bounds every request; tokens may
// be nil for unauthenticated endpoints.
func NewHTTPRemote(baseURL string, timeout time.Duration, tokens TokenSource) *HTTPRemote {
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

func (c *HTTPRemote) Create(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	doc, err := c.do(ctx, "create", http.MethodPost, c.collectionURL(entityType), entityType, entityID,
		&entityDocument{ID: entityID, Data: payload})
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (c *HTTPRemote) Update(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	doc, err := c.do(ctx, "update", http.MethodPut, c.entityURL(entityType, entityID), entityType, entityID,
		&entityDocument{ID: entityID, Data: payload})
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (c *HTTPRemote) Delete(ctx context.Context, entityType, entityID string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, c.entityURL(entityType, entityID), entityType, entityID, nil)
	return err
}

func (c *HTTPRemote) Fetch(ctx context.Context, entityType, entityID string) (*RemoteState, error) {
	doc, err := c.do(ctx, "fetch", http.MethodGet, c.entityURL(entityType, entityID), entityType, entityID, nil)
	if err != nil {
		return nil, err
	}
	return doc.state(), nil
}

func (c *HTTPRemote) collectionURL(entityType string) string {
	return c.baseURL + "/" + url.PathEscape(entityType)
}

func (c *HTTPRemote) entityURL(entityType, entityID string) string {
	return c.collectionURL(entityType) + "/" + url.PathEscape(entityID)
}

func (c *HTTPRemote) do(ctx context.Context, op, method, target, entityType, entityID string, body *entityDocument) (*entityDocument, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &PermanentError{Op: op, Message: fmt.Sprintf("failed to marshal payload: %v", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &PermanentError{Op: op, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, &PermanentError{Op: op, Message: fmt.Sprintf("failed to mint token: %v", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeDocument(resp.Body)
	case resp.StatusCode == http.StatusNotFound && op == "fetch":
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		conflict := &ConflictError{EntityType: entityType, EntityID: entityID}
		if doc, err := decodeDocument(resp.Body); err == nil && doc.UpdatedAt != nil {
			conflict.Remote = doc.state()
		}
		return nil, conflict
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(readErrorMessage(resp.Body))}
	default:
		return nil, &PermanentError{Op: op, StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
}

func decodeDocument(r io.Reader) (*entityDocument, error) {
	var doc entityDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, &TransientError{Op: "decode", Err: err}
	}
	return &doc, nil
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var doc errorDocument
	if err := json.Unmarshal(data, &doc); err == nil && doc.Error != "" {
		return doc.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return "no response body"
}

func (d *entityDocument) state() *RemoteState {
	s := &RemoteState{Payload: d.Data}
	if d.UpdatedAt != nil {
		s.UpdatedAt = *d.UpdatedAt
	}
	return s
}
