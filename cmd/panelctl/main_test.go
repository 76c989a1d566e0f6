package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/panel-one/internal/api/dto"
	"github.com/cuongbtq/panel-one/internal/client"
)

const jobID = "0b9f3c6e-2a53-4d0c-9f59-2f9f7d8e1a22"

func init() {
	color.NoColor = true
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// fakeAPI accepts one submission and walks the job through statuses on each poll
func fakeAPI(t *testing.T, final func(base string) dto.JobResponse) *httptest.Server {
	var polls atomic.Int32
	mux := http.NewServeMux()

	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.GenerateResponse{JobID: jobID, Status: "QUEUED"})
	})
	mux.HandleFunc("GET /job/{id}", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(dto.JobResponse{JobID: jobID, Status: "GENERATING_STORY"})
			return
		}
		_ = json.NewEncoder(w).Encode(final("http://" + r.Host))
	})
	mux.HandleFunc("GET /blobs/panel.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("panel"))
	})

	return httptest.NewServer(mux)
}

func TestRunGenerate(t *testing.T) {
	tests := []struct {
		name     string
		final    func(base string) dto.JobResponse
		wantErr bool
	}{
		{
			name: "completed job is downloaded",
			final: func(base string) dto.JobResponse {
				return dto.JobResponse{JobID: jobID, Status: "COMPLETED", ResultURL: base + "/blobs/panel.png"}
			},
		},
		{
			name: "failed job reports the error",
			final: func(string) dto.JobResponse {
				return dto.JobResponse{JobID: jobID, Status: "FAILED", ErrorMessage: "GENERATING_STORY: quota"}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeAPI(t, tt.final)
			defer srv.Close()

			dir := t.TempDir()
			writePNG(t, filepath.Join(dir, "a.png"))

			c := client.New(client.Config{BaseURL: srv.URL, PollInterval: time.Millisecond})
			err := runGenerate(context.Background(), c, &generateOptions{dir: dir, poll: true})

			if tt.wantErr {
				require.Error(t, err)
				assert.NoFileExists(t, filepath.Join(dir, resultFileName))
				return
			}
			require.NoError(t, err)
			data, err := os.ReadFile(filepath.Join(dir, resultFileName))
			require.NoError(t, err)
			assert.Equal(t, "panel", string(data))
		})
	}
}

func TestRunGenerate_NoImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("nope"), 0o644))

	err := runGenerate(context.Background(), client.New(client.Config{BaseURL: "http://127.0.0.1:0"}), &generateOptions{dir: dir})
	assert.EqualError(t, err, "no valid images found in directory")
}

func TestDescribeStatus(t *testing.T) {
	assert.Equal(t, "Generating story...", describeStatus("GENERATING_STORY"))
	assert.Equal(t, "Panel ready.", describeStatus("COMPLETED"))
	assert.Equal(t, "SOMETHING_NEW", describeStatus("SOMETHING_NEW"))
}

func TestStatusCommand(t *testing.T) {
	srv := fakeAPI(t, func(string) dto.JobResponse { return dto.JobResponse{JobID: jobID, Status: "QUEUED"} })
	defer srv.Close()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"status", jobID, "--api-url", srv.URL})
	assert.NoError(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetArgs([]string{"status"})
	assert.Error(t, cmd.Execute())
}

func TestGenerateCommand_RequiresDir(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"generate"})
	assert.Error(t, cmd.Execute())
}
