package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhabit/gridhabit/pkg/types"
)

func TestHTTPCommander(t *testing.T) {
	var got struct {
		Vendor   string `json:"vendor"`
		DeviceID string `json:"deviceID"`
		Action   string `json:"action"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/commands", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	c := NewHTTPCommander(ts.URL)
	require.NoError(t, c.ExecuteAction(context.Background(), "tuya", "fan", "on"))
	assert.Equal(t, "tuya", got.Vendor)
	assert.Equal(t, "fan", got.DeviceID)
	assert.Equal(t, "on", got.Action)
}

func TestHTTPCommanderRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewHTTPCommander(ts.URL)
	err := c.ExecuteAction(context.Background(), "tuya", "fan", "on")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device offline")
}

func TestHTTPAssistant(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		var req struct {
			Command string `json:"command"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "turn on ceiling fan", req.Command)
		json.NewEncoder(w).Encode(map[string]string{"answer": "ok, fan is on"})
	}))
	defer ts.Close()

	a := NewHTTPAssistant(ts.URL)
	answer, err := a.ExecuteByName(context.Background(), "turn on ceiling fan")
	require.NoError(t, err)
	assert.Equal(t, "ok, fan is on", answer)
}

func TestFileMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tuya/fan": {"vendor": "tuya", "deviceID": "fan", "name": "ceiling fan", "priority": 1},
		"tuya/furnace": {"vendor": "tuya", "deviceID": "furnace", "name": "furnace", "essential": true}
	}`), 0o600))

	m := NewFileMetadata(path)
	dm, err := m.GetEssential(context.Background(), "tuya", "fan")
	require.NoError(t, err)
	assert.Equal(t, "ceiling fan", dm.Name)
	assert.False(t, dm.Protected())

	dm, err = m.GetEssential(context.Background(), "tuya", "furnace")
	require.NoError(t, err)
	assert.True(t, dm.Protected())

	_, err = m.GetEssential(context.Background(), "tuya", "unknown")
	assert.Error(t, err)
}

func TestStaticMetadataUnknownDevice(t *testing.T) {
	m := StaticMetadata{"tuya/fan": types.DeviceMeta{DeviceID: "fan"}}
	_, err := m.GetEssential(context.Background(), "tuya", "missing")
	assert.Error(t, err)
}
