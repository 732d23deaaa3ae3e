// Package intercept observes chat-completion traffic between the host page
// and its upstream model endpoint. Forwarding is strictly observational: the
// caller receives exactly the bytes the upstream produced, and detection
// happens on a copy. On a content-filter marker match the interceptor
// publishes a detection event to its subscribers.
package intercept

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"chatmend/domain"
)

// Interceptor forwards completion traffic upstream and watches response
// bodies for the filter marker.
type Interceptor struct {
	upstreamURL string
	marker      string
	httpClient  *http.Client

	mu   sync.Mutex
	subs []chan domain.DetectionEvent
}

// NewInterceptor creates an interceptor for the given upstream. marker is the
// literal substring that flags a filtered completion.
func NewInterceptor(upstreamURL, marker string, timeout time.Duration) *Interceptor {
	return &Interceptor{
		upstreamURL: strings.TrimSuffix(upstreamURL, "/"),
		marker:      marker,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Subscribe returns a channel of detection events. Slow subscribers lose
// events rather than stalling the proxy path.
func (ix *Interceptor) Subscribe() <-chan domain.DetectionEvent {
	ch := make(chan domain.DetectionEvent, 16)
	ix.mu.Lock()
	ix.subs = append(ix.subs, ch)
	ix.mu.Unlock()
	return ch
}

func (ix *Interceptor) publish(ev domain.DetectionEvent) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, ch := range ix.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("WARN: detection subscriber full, dropping event for conversation %s", ev.ConversationID)
		}
	}
}

// inspect checks a response copy for the filter marker and broadcasts a
// detection event on match. Never fails the proxy path.
func (ix *Interceptor) inspect(conversationID string, body []byte) {
	if ix.marker == "" || !bytes.Contains(body, []byte(ix.marker)) {
		return
	}
	log.Printf("filter marker detected (conversation %s)", conversationID)
	ix.publish(domain.DetectionEvent{
		Type:           domain.DetectionType,
		ConversationID: conversationID,
		Content:        string(body),
	})
}

// Forward proxies a non-streaming request body upstream and returns the
// upstream status, content type and body verbatim. The body copy is
// inspected for the filter marker after the round trip.
func (ix *Interceptor) Forward(ctx context.Context, path, auth, conversationID string, body []byte) (int, string, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.upstreamURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}

	resp, err := ix.httpClient.Do(httpReq)
	if err != nil {
		return 0, "", nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		ix.inspect(conversationID, respBody)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), respBody, nil
}

// ForwardStream proxies a streaming request upstream. The response status is
// only committed after the upstream round trip starts, so an upstream error
// reaches the caller with its original status and body. On 200 each SSE line
// is written to w exactly as received and flushed as it goes; the accumulated
// stream is inspected once the upstream terminates.
func (ix *Interceptor) ForwardStream(ctx context.Context, path, auth, conversationID string, body []byte, w http.ResponseWriter) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.upstreamURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}

	resp, err := ix.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		_, err := io.Copy(w, resp.Body)
		return err
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var accumulated bytes.Buffer
	reader := bufio.NewReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if line != "" {
			accumulated.WriteString(line)
			if _, werr := io.WriteString(w, line); werr != nil {
				return werr
			}
			flush()
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
	}

	ix.inspect(conversationID, accumulated.Bytes())
	return nil
}

// ForwardGet proxies a GET request (model listing) upstream verbatim.
func (ix *Interceptor) ForwardGet(ctx context.Context, path, auth string) (int, string, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ix.upstreamURL+path, nil)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	if auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}

	resp, err := ix.httpClient.Do(httpReq)
	if err != nil {
		return 0, "", nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), respBody, nil
}
