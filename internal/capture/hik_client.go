package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"
)

const DefaultSnapshotPath = "/ISAPI/Streaming/channels/101/picture"

// StatusError is a non-200 answer from the camera.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("camera answered %d %s", e.Code, http.StatusText(e.Code))
}

// Transient reports whether err is worth another fetch attempt: the camera
// was busy or did not answer in time.
func Transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// HikClient fetches still images over Hikvision ISAPI with digest auth.
type HikClient struct {
	client *http.Client
	path   string
	scheme string
}

func NewHikClient(username, password, path string, timeout time.Duration) *HikClient {
	if path == "" {
		path = DefaultSnapshotPath
	}
	return &HikClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &digest.Transport{
				Username: username,
				Password: password,
			},
		},
		path:   path,
		scheme: "http",
	}
}

// Fetch downloads one snapshot from host (ip or ip:port).
func (c *HikClient) Fetch(ctx context.Context, host string) ([]byte, error) {
	url := host
	if !strings.Contains(host, "://") {
		url = c.scheme + "://" + host
	}
	url = strings.TrimRight(url, "/") + c.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	return body, nil
}
