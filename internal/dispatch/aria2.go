package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/media-dispatch/internal/model"
)

// Aria2Method is the JSON-RPC method used to queue a download
const Aria2Method = "aria2.addUri"

// Aria2Request is a JSON-RPC 2.0 call
type Aria2Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Aria2Options are the per-download options of aria2.addUri
type Aria2Options struct {
	Dir      string   `json:"dir,omitempty"`
	Out      string   `json:"out,omitempty"`
	AllProxy string   `json:"all-proxy,omitempty"`
	Header   []string `json:"header,omitempty"`
}

type aria2Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// BuildAria2Request assembles the addUri call for downloadURL
func BuildAria2Request(profile model.BackendProfile, item *model.ResolvedItem, downloadURL, cookie, authorization string, now time.Time) Aria2Request {
	opts := Aria2Options{AllProxy: profile.Proxy}
	opts.Dir, opts.Out = SplitOutputPath(OutputPath(profile.PathTemplate, item, now))
	if cookie != "" {
		opts.Header = append(opts.Header, "Cookie: "+cookie)
	}
	if authorization != "" {
		opts.Header = append(opts.Header, "Authorization: "+authorization)
	}

	return Aria2Request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  Aria2Method,
		Params:  []any{"token:" + profile.Token, []string{downloadURL}, opts},
	}
}

func (d *Dispatcher) sendAria2(ctx context.Context, profile model.BackendProfile, item *model.ResolvedItem, downloadURL string) error {
	cookie, authorization := d.settings.Credentials()
	req := BuildAria2Request(profile, item, downloadURL, cookie, authorization, d.now())

	u, err := url.Parse(profile.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	var raw []byte
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		raw, err = d.sendAria2WS(ctx, profile.Endpoint, req)
	case "http", "https":
		raw, err = d.postJSON(ctx, profile.Endpoint, req)
	default:
		return fmt.Errorf("unsupported aria2 endpoint scheme %q", u.Scheme)
	}
	if err != nil {
		return err
	}

	log.Printf("[Dispatch] aria2 response for %s: %s", item.ID, bytes.TrimSpace(raw))
	var resp aria2Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode aria2 response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("aria2 error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return nil
}

// sendAria2WS sends req as a single message and waits for the matching reply.
// aria2 also pushes notifications on the socket; those are skipped.
func (d *Dispatcher) sendAria2WS(ctx context.Context, endpoint string, req Aria2Request) ([]byte, error) {
	conn, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(DefaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("websocket read: %w", err)
		}
		var probe struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(msg, &probe) == nil && probe.ID == req.ID {
			return msg, nil
		}
	}
}

// postJSON POSTs body as JSON and returns the response body
func (d *Dispatcher) postJSON(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, fmt.Errorf("POST %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	return raw, nil
}
