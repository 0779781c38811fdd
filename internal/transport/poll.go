package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const generationPath = "/api/v1/generation/"

// PollGenerator submits generation as a backend task and polls until it finishes.
// The whole result is delivered as a single chunk.
type PollGenerator struct {
	client   *Client
	interval time.Duration
}

// NewPollGenerator creates a poll mode generator
func NewPollGenerator(client *Client, interval time.Duration) *PollGenerator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollGenerator{client: client, interval: interval}
}

// Generate submits req to the conversational endpoint for kind and waits for the task
func (g *PollGenerator) Generate(ctx context.Context, kind Kind, req *GenerateRequest, onChunk ChunkFunc) error {
	op := fmt.Sprintf("generate %s", kind)

	var submitted TaskStatus
	if err := g.client.do(ctx, op, http.MethodPost, generationPath+string(kind)+"_conversational", req, &submitted); err != nil {
		return err
	}
	if submitted.TaskID == "" {
		return NewDecodeError(op, errors.New("response has no task_id"))
	}

	logger := g.client.logger.With(zap.String("task_id", submitted.TaskID), zap.String("kind", string(kind)))
	logger.Debug("Generation task submitted")

	timer := time.NewTimer(g.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		status, err := g.client.TaskStatus(ctx, submitted.TaskID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch status.Status {
		case StatusSuccess:
			text, err := resultText(status.Result)
			if err != nil {
				return NewDecodeError(op, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			onChunk(text)
			return nil
		case StatusFailure:
			return NewTaskFailedError(op, submitted.TaskID, status.Error)
		}

		timer.Reset(g.interval)
	}
}

// resultText picks the generated payload out of a task result: the outline or
// slides_data member when present, the whole result otherwise
func resultText(result json.RawMessage) (string, error) {
	if len(result) == 0 || string(result) == "null" {
		return "", errors.New("task succeeded without a result")
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(result, &obj) != nil {
		return string(result), nil
	}

	if data, ok := obj["slides_data"]; ok {
		return string(data), nil
	}
	if outline, ok := obj["outline"]; ok && len(outline) > 0 && outline[0] == '{' {
		return string(outline), nil
	}
	return string(result), nil
}
