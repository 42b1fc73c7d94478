package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"redub/internal/job"
)

// apiClient talks to the daemon's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type jobSummary struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	FailedStage string `json:"failed_stage"`
	Error       string `json:"error"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("connect to daemon at %s: connection refused; start it with `redub daemon`", c.base)
		}
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%s", failure.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) submit(jc job.Config) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(http.MethodPost, "/api/v1/jobs", jc, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *apiClient) list() ([]jobSummary, error) {
	var payload struct {
		Jobs []jobSummary `json:"jobs"`
	}
	if err := c.do(http.MethodGet, "/api/v1/jobs", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

func (c *apiClient) status(id string) (job.Status, error) {
	var status job.Status
	err := c.do(http.MethodGet, "/api/v1/jobs/"+id, nil, &status)
	return status, err
}

func (c *apiClient) events(id string, since int64) ([]job.Event, error) {
	var payload struct {
		Events []job.Event `json:"events"`
	}
	path := "/api/v1/jobs/" + id + "/events?since=" + strconv.FormatInt(since, 10)
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Events, nil
}

func (c *apiClient) artifacts(id string) ([]job.ArtifactInfo, error) {
	var payload struct {
		Artifacts []job.ArtifactInfo `json:"artifacts"`
	}
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+id+"/artifacts", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Artifacts, nil
}

func (c *apiClient) cancel(id string) error {
	return c.do(http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil)
}

func (c *apiClient) resume(id string) error {
	return c.do(http.MethodPost, "/api/v1/jobs/"+id+"/resume", nil, nil)
}

func (c *apiClient) remove(id string) error {
	return c.do(http.MethodDelete, "/api/v1/jobs/"+id, nil, nil)
}

// download streams one artifact to w.
func (c *apiClient) download(id, key string, w io.Writer) error {
	resp, err := c.http.Get(c.base + "/api/v1/jobs/" + id + "/artifacts/" + key)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
