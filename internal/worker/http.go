package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/goalflow/internal/task"
)

// HTTPExecutor executes tasks by POSTing the snapshot as JSON to a
// configured endpoint. The response body becomes the task result.
type HTTPExecutor struct {
	URL    string
	Client *http.Client
}

// Execute posts one snapshot.
func (e *HTTPExecutor) Execute(ctx context.Context, snap task.Snapshot) (string, error) {
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("executor endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}
