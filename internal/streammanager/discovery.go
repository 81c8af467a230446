package streammanager

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Descriptor is one discovered stream.
type Descriptor struct {
	StreamID      string
	Name          string
	Ready         bool
	SourceType    string
	SourceURL     string
	BytesReceived uint64
	BytesSent     uint64
}

type pathsListResponse struct {
	Items []pathItem `json:"items"`
}

type pathItem struct {
	Name          string     `json:"name"`
	Ready         bool       `json:"ready"`
	Source        *itemSrc   `json:"source"`
	BytesReceived uint64     `json:"bytesReceived"`
	BytesSent     uint64     `json:"bytesSent"`
}

type itemSrc struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// discover reads the configured manual stream list if non-empty, otherwise
// queries MediaMTX's v3 paths API. Connection or parse errors yield an
// empty slice so existing pipelines are left alone.
func (m *Manager) discover() []Descriptor {
	if len(m.cfg.ManualStreams) > 0 {
		out := make([]Descriptor, 0, len(m.cfg.ManualStreams))
		for _, id := range m.cfg.ManualStreams {
			out = append(out, Descriptor{StreamID: id, Name: id, Ready: true})
		}
		return out
	}

	url := fmt.Sprintf("%s/v3/paths/list", m.cfg.MediaMTX.APIURL())
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		m.log.Warn().Err(err).Msg("cannot connect to mediamtx api")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.log.Warn().Int("status", resp.StatusCode).Msg("mediamtx api returned non-200")
		return nil
	}

	var parsed pathsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		m.log.Error().Err(err).Msg("failed to parse mediamtx discovery response")
		return nil
	}

	out := make([]Descriptor, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Name == "" {
			continue
		}
		d := Descriptor{
			StreamID:      item.Name,
			Name:          item.Name,
			Ready:         item.Ready,
			BytesReceived: item.BytesReceived,
			BytesSent:     item.BytesSent,
		}
		if item.Source != nil {
			d.SourceType = item.Source.Type
			d.SourceURL = item.Source.ID
		}
		out = append(out, d)
	}

	if m.cfg.Verbose {
		var ready []string
		for _, d := range out {
			if d.Ready {
				ready = append(ready, d.StreamID)
			}
		}
		m.log.Debug().Int("total", len(out)).Strs("ready", ready).Msg("discovered cameras")
	}

	return out
}
