package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	streamPath = "/api/v1/stream/"
	doneMarker = "[DONE]"
)

// StreamGenerator consumes the backend's server-sent event endpoints
type StreamGenerator struct {
	client *Client
}

// NewStreamGenerator creates a generator over the client's stream endpoints
func NewStreamGenerator(client *Client) *StreamGenerator {
	return &StreamGenerator{client: client}
}

// Generate posts req and relays every {"text": ...} event to onChunk until [DONE]
func (g *StreamGenerator) Generate(ctx context.Context, kind Kind, req *GenerateRequest, onChunk ChunkFunc) error {
	op := fmt.Sprintf("stream %s", kind)

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.client.url(streamPath+string(kind)), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := g.client.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}

	g.client.logger.Debug("Stream opened", zap.String("kind", string(kind)), zap.String("session_id", req.SessionID))
	return readEvents(ctx, op, resp.Body, onChunk, g.client.logger)
}

// readEvents parses "data: " frames separated by blank lines
func readEvents(ctx context.Context, op string, body io.Reader, onChunk ChunkFunc, logger *zap.Logger) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder

	// dispatch handles one complete event; done is true after the end marker
	dispatch := func() (done bool, err error) {
		frame := data.String()
		data.Reset()

		if strings.TrimSpace(frame) == doneMarker {
			return true, nil
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			logger.Debug("Skipping malformed stream frame", zap.String("frame", frame), zap.Error(err))
			return false, nil
		}
		if ev.Error != nil {
			return true, NewStreamError(op, *ev.Error)
		}
		if ev.Text != nil && ctx.Err() == nil {
			onChunk(*ev.Text)
		}
		return false, nil
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "" && data.Len() > 0:
			if done, err := dispatch(); done || err != nil {
				return err
			}
		default:
			// comments, event names and ids carry nothing for us
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return NewNetworkError(op, err)
	}

	// the server may close right after the last frame without a blank line
	if data.Len() > 0 {
		if _, err := dispatch(); err != nil {
			return err
		}
	}
	return ctx.Err()
}
