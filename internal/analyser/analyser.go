// Package analyser implements the round-robin scheduler that drains
// recordings lacking an analysis through an external vision-LLM endpoint.
package analyser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/diogoviannaaraujo/panoptic/internal/store"
)

// Recordings is the subset of the store the scheduler consumes.
type Recordings interface {
	GetPendingRecordings() ([]store.PendingRecording, error)
	InsertAnalysis(recordingID uint, result store.AnalysisResult) error
}

// Config configures the scheduler and the inference client.
type Config struct {
	VLLMAPIURL   string
	VLLMModel    string
	HostIP       string
	ServerPort   int
	PollInterval time.Duration
}

// Scheduler drains pending recordings fairly across cameras and dispatches
// each to the inference endpoint.
type Scheduler struct {
	log    zerolog.Logger
	store  Recordings
	cfg    Config
	client *retryablehttp.Client
}

// New constructs a Scheduler. The HTTP client retries POSTs up to 3 times
// with exponential backoff on 500/502/503/504, matching
// original_source/analyser/main.py's urllib3 Retry policy.
func New(log zerolog.Logger, st Recordings, cfg Config) *Scheduler {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 4 * time.Second
	client.HTTPClient.Timeout = 300 * time.Second
	client.Logger = nil
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		switch resp.StatusCode {
		case 500, 502, 503, 504:
			return true, nil
		}
		return false, nil
	}

	return &Scheduler{log: log, store: st, cfg: cfg, client: client}
}

// WaitReady polls the inference endpoint's model-list URL until it answers
// 2xx or timeout elapses, then proceeds regardless.
func (s *Scheduler) WaitReady(ctx context.Context, timeout time.Duration) {
	modelsURL := strings.Replace(s.cfg.VLLMAPIURL, "/v1/chat/completions", "/v1/models", 1)
	s.log.Info().Str("url", modelsURL).Msg("waiting for inference endpoint to be ready")

	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := client.Get(modelsURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.log.Info().Msg("inference endpoint is ready")
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
	s.log.Warn().Dur("timeout", timeout).Msg("inference endpoint did not become ready, proceeding anyway")
}

// Run polls forever until ctx is cancelled, draining pending recordings fair
// round-robin across cameras on each pass.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Msg("started monitoring store for pending recordings")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	pending, err := s.store.GetPendingRecordings()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load pending recordings")
		return
	}
	if len(pending) == 0 {
		return
	}

	byCamera := make(map[string][]store.PendingRecording)
	order := make([]string, 0)
	for _, rec := range pending {
		if _, ok := byCamera[rec.StreamID]; !ok {
			order = append(order, rec.StreamID)
		}
		byCamera[rec.StreamID] = append(byCamera[rec.StreamID], rec)
	}
	for _, cam := range order {
		s.log.Info().Str("stream_id", cam).Int("pending", len(byCamera[cam])).Msg("pending recordings")
	}

	indices := make(map[string]int, len(order))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processedAny := false
		for _, cam := range order {
			idx := indices[cam]
			recs := byCamera[cam]
			if idx >= len(recs) {
				continue
			}
			s.processRecording(recs[idx])
			indices[cam] = idx + 1
			processedAny = true
		}
		if !processedAny {
			return
		}
	}
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func stripCodeFence(content string) string {
	if m := codeFenceRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type visionResult struct {
	Description   string `json:"description"`
	Danger        bool   `json:"danger"`
	DangerLevel   int    `json:"danger_level"`
	DangerDetails string `json:"danger_details"`
}

const analysisPrompt = `Analyze this video segment of a security camera.
Provide a structured analysis in JSON format.
The JSON object must strictly adhere to this schema:
{
    "description": "A detailed description of the scene and events",
    "danger": boolean,
    "danger_level": number,
    "danger_details": "Details about the danger if any, otherwise empty string"
}

Ensure valid JSON output. Do not include any text outside the JSON object.`

func (s *Scheduler) processRecording(rec store.PendingRecording) {
	videoURL := fmt.Sprintf("http://%s:%d/recordings/%s", s.cfg.HostIP, s.cfg.ServerPort, rec.Filepath)

	payload := map[string]interface{}{
		"model": s.cfg.VLLMModel,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": analysisPrompt},
					{"type": "video_url", "video_url": map[string]string{"url": videoURL}},
				},
			},
		},
		"max_tokens":  2048,
		"temperature": 0.1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.insertError(rec.ID, err.Error())
		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, s.cfg.VLLMAPIURL, bytes.NewReader(body))
	if err != nil {
		s.insertError(rec.ID, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.insertError(rec.ID, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errMsg := fmt.Sprintf("inference_http_%d", resp.StatusCode)
		s.log.Error().Str("error", errMsg).Int("recording_id", int(rec.ID)).Msg("inference endpoint error")
		s.insertError(rec.ID, errMsg)
		return
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		s.insertError(rec.ID, err.Error())
		return
	}
	if len(parsed.Choices) == 0 {
		s.insertError(rec.ID, "empty choices in inference response")
		return
	}

	content := parsed.Choices[0].Message.Content
	cleaned := stripCodeFence(content)

	var result visionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		s.log.Error().Int("recording_id", int(rec.ID)).Str("content", content).Msg("failed to parse inference JSON")
		raw := content
		if err := s.store.InsertAnalysis(rec.ID, store.AnalysisResult{
			RawResponse: &raw,
			Error:       strPtr("json_parse_error"),
		}); err != nil {
			s.log.Error().Err(err).Msg("failed to insert analysis row")
		}
		return
	}

	raw := content
	if err := s.store.InsertAnalysis(rec.ID, store.AnalysisResult{
		Description:   &result.Description,
		Danger:        result.Danger,
		DangerLevel:   result.DangerLevel,
		DangerDetails: &result.DangerDetails,
		RawResponse:   &raw,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to insert analysis row")
	}
	s.log.Info().Int("recording_id", int(rec.ID)).Str("filename", rec.Filename).Msg("recording analysed")
}

func (s *Scheduler) insertError(recordingID uint, message string) {
	if err := s.store.InsertAnalysis(recordingID, store.AnalysisResult{Error: &message}); err != nil {
		s.log.Error().Err(err).Msg("failed to insert error analysis row")
	}
}

func strPtr(s string) *string { return &s }
