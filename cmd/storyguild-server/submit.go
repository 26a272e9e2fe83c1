package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/storyguild/internal/scheduler"
	"github.com/kazz187/storyguild/internal/task"
)

const pollInterval = time.Second

func loadBatch(path string) (*scheduler.EnqueueRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	var req scheduler.EnqueueRequest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &req)
	default:
		err = yaml.Unmarshal(data, &req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch %s: %w", path, err)
	}
	if len(req.Tasks) == 0 {
		return nil, fmt.Errorf("batch %s has no tasks", path)
	}
	return &req, nil
}

type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.baseURL, "/")+"/api"+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func submit(serverURL, apiKey, file string, wait bool) error {
	ctx := context.Background()
	batch, err := loadBatch(file)
	if err != nil {
		return err
	}

	client := &apiClient{baseURL: serverURL, apiKey: apiKey, http: &http.Client{Timeout: 30 * time.Second}}
	var resp scheduler.EnqueueResponse
	if err := client.do(ctx, http.MethodPost, "/tasks", batch, &resp); err != nil {
		return err
	}
	for _, id := range resp.IDs {
		fmt.Println(id)
	}
	if !wait {
		return nil
	}
	return waitSettled(ctx, client, resp.IDs)
}

// waitSettled polls until every id is complete or errored and reports the
// failures. Tasks that disappear (cancelled or cleared) count as settled.
func waitSettled(ctx context.Context, client *apiClient, ids []string) error {
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}
	failed := 0
	for len(pending) > 0 {
		var list scheduler.ListTasksResponse
		if err := client.do(ctx, http.MethodGet, "/tasks", nil, &list); err != nil {
			return err
		}
		seen := make(map[string]task.Task, len(list.Tasks))
		for _, t := range list.Tasks {
			seen[t.ID] = t
		}
		for id := range pending {
			t, ok := seen[id]
			switch {
			case !ok:
				fmt.Fprintf(os.Stderr, "%s: removed\n", id)
			case t.Status == task.StatusComplete:
				fmt.Fprintf(os.Stderr, "%s: complete\n", id)
			case t.Status == task.StatusError:
				fmt.Fprintf(os.Stderr, "%s: error: %s\n", id, t.Error)
				failed++
			default:
				continue
			}
			delete(pending, id)
		}
		if len(pending) > 0 {
			time.Sleep(pollInterval)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(ids))
	}
	return nil
}
