package analyser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diogoviannaaraujo/panoptic/internal/store"
)

func TestStripCodeFenceWithJSONTag(t *testing.T) {
	got := stripCodeFence("```json\n{\"a\":1}\n```")
	assert.Equal(t, `{"a":1}`, got)
}

func TestStripCodeFenceWithoutTag(t *testing.T) {
	got := stripCodeFence("```\n{\"a\":1}\n```")
	assert.Equal(t, `{"a":1}`, got)
}

func TestStripCodeFenceRawText(t *testing.T) {
	got := stripCodeFence(`  {"a":1}  `)
	assert.Equal(t, `{"a":1}`, got)
}

type fakeRecordings struct {
	pending  []store.PendingRecording
	inserted []store.AnalysisResult
}

func (f *fakeRecordings) GetPendingRecordings() ([]store.PendingRecording, error) {
	return f.pending, nil
}

func (f *fakeRecordings) InsertAnalysis(recordingID uint, result store.AnalysisResult) error {
	f.inserted = append(f.inserted, result)
	return nil
}

func TestProcessRecordingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = "```json\n{\"description\":\"calm scene\",\"danger\":false,\"danger_level\":0,\"danger_details\":\"\"}\n```"
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	rec := &fakeRecordings{}
	sched := New(zerolog.Nop(), rec, Config{
		VLLMAPIURL:   srv.URL,
		VLLMModel:    "test-model",
		HostIP:       "127.0.0.1",
		ServerPort:   8080,
		PollInterval: time.Second,
	})

	sched.processRecording(store.PendingRecording{ID: 1, StreamID: "cam1", Filename: "x.ts", Filepath: "cam1/20260101/x.ts"})

	require.Len(t, rec.inserted, 1)
	assert.Nil(t, rec.inserted[0].Error)
	require.NotNil(t, rec.inserted[0].Description)
	assert.Equal(t, "calm scene", *rec.inserted[0].Description)
}

func TestProcessRecordingHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	rec := &fakeRecordings{}
	sched := New(zerolog.Nop(), rec, Config{VLLMAPIURL: srv.URL, VLLMModel: "m", PollInterval: time.Second})

	sched.processRecording(store.PendingRecording{ID: 2, Filepath: "x.ts"})

	require.Len(t, rec.inserted, 1)
	require.NotNil(t, rec.inserted[0].Error)
	assert.Equal(t, "inference_http_400", *rec.inserted[0].Error)
}

func TestProcessRecordingParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = "not json at all"
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	rec := &fakeRecordings{}
	sched := New(zerolog.Nop(), rec, Config{VLLMAPIURL: srv.URL, VLLMModel: "m", PollInterval: time.Second})

	sched.processRecording(store.PendingRecording{ID: 3, Filepath: "x.ts"})

	require.Len(t, rec.inserted, 1)
	require.NotNil(t, rec.inserted[0].Error)
	assert.Equal(t, "json_parse_error", *rec.inserted[0].Error)
}

func TestPollOnceDrainsRoundRobinAcrossCameras(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = `{"description":"d","danger":false,"danger_level":0,"danger_details":""}`
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	rec := &fakeRecordings{pending: []store.PendingRecording{
		{ID: 1, StreamID: "cam1", Filepath: "a.ts"},
		{ID: 2, StreamID: "cam2", Filepath: "b.ts"},
		{ID: 3, StreamID: "cam1", Filepath: "c.ts"},
	}}
	sched := New(zerolog.Nop(), rec, Config{VLLMAPIURL: srv.URL, VLLMModel: "m", PollInterval: time.Second})

	sched.pollOnce(context.Background())

	assert.Len(t, rec.inserted, 3)
}
