package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/types"
)

// HTTPCommander issues device commands against a vendor gateway's REST API.
type HTTPCommander struct {
	baseURL string
	client  *http.Client
}

var _ Commander = (*HTTPCommander)(nil)

// NewHTTPCommander creates an HTTPCommander for the gateway at baseURL.
func NewHTTPCommander(baseURL string) *HTTPCommander {
	return &HTTPCommander{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPCommander) ExecuteAction(ctx context.Context, vendor, deviceID, action string) error {
	body, err := json.Marshal(struct {
		Vendor   string `json:"vendor"`
		DeviceID string `json:"deviceID"`
		Action   string `json:"action"`
	}{Vendor: vendor, DeviceID: deviceID, Action: action})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/commands", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("gateway rejected command: %s: %s", res.Status, string(b))
	}
	return nil
}

// HTTPAssistant resolves natural-language commands through an assistant
// bridge.
type HTTPAssistant struct {
	baseURL string
	client  *http.Client
}

var _ Assistant = (*HTTPAssistant)(nil)

// NewHTTPAssistant creates an HTTPAssistant for the bridge at baseURL.
func NewHTTPAssistant(baseURL string) *HTTPAssistant {
	return &HTTPAssistant{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPAssistant) ExecuteByName(ctx context.Context, command string) (string, error) {
	body, err := json.Marshal(struct {
		Command string `json:"command"`
	}{Command: command})
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send assistant command: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("assistant rejected command: %s", res.Status)
	}
	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode assistant response: %w", err)
	}
	return out.Answer, nil
}

// LogCommander records commands without sending them anywhere. Used when no
// gateway is configured (dry-run).
type LogCommander struct{}

var _ Commander = (*LogCommander)(nil)

func (LogCommander) ExecuteAction(ctx context.Context, vendor, deviceID, action string) error {
	log.Ctx(ctx).InfoContext(ctx, "dry-run device command",
		slog.String("vendor", vendor),
		slog.String("device", deviceID),
		slog.String("action", action))
	return nil
}

// FileMetadata serves device metadata from a JSON file mapping
// "vendor/deviceID" to DeviceMeta. The file is read once and cached.
type FileMetadata struct {
	path string

	mu      sync.Mutex
	devices map[string]types.DeviceMeta
}

var _ Metadata = (*FileMetadata)(nil)

// NewFileMetadata creates a FileMetadata over the given JSON file.
func NewFileMetadata(path string) *FileMetadata {
	return &FileMetadata{path: path}
}

func (f *FileMetadata) load() (map[string]types.DeviceMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devices != nil {
		return f.devices, nil
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}
	var devices map[string]types.DeviceMeta
	if err := json.Unmarshal(b, &devices); err != nil {
		return nil, fmt.Errorf("parse devices file: %w", err)
	}
	f.devices = devices
	return devices, nil
}

func (f *FileMetadata) GetEssential(ctx context.Context, vendor, deviceID string) (types.DeviceMeta, error) {
	devices, err := f.load()
	if err != nil {
		return types.DeviceMeta{}, err
	}
	dm, ok := devices[vendor+"/"+deviceID]
	if !ok {
		return types.DeviceMeta{}, fmt.Errorf("unknown device %s/%s", vendor, deviceID)
	}
	return dm, nil
}

// StaticMetadata serves a fixed metadata map. Used by the seed tool and when
// no devices file is configured; unknown devices are treated as protected by
// returning an error.
type StaticMetadata map[string]types.DeviceMeta

var _ Metadata = (StaticMetadata)(nil)

func (m StaticMetadata) GetEssential(ctx context.Context, vendor, deviceID string) (types.DeviceMeta, error) {
	dm, ok := m[vendor+"/"+deviceID]
	if !ok {
		return types.DeviceMeta{}, fmt.Errorf("unknown device %s/%s", vendor, deviceID)
	}
	return dm, nil
}
