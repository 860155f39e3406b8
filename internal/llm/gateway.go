package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hirelane/livewire/internal/checkpoint"
)

// ErrNotConfigured indicates no model gateway URL was configured
var ErrNotConfigured = errors.New("model gateway not configured")

// GatewayProvider streams responses from the dashboard's model gateway,
// which emits SSE frames carrying one JSON object each.
type GatewayProvider struct {
	url       string
	authToken string
	client    *http.Client
}

// NewGatewayProvider creates a provider backed by the model gateway.
// The client carries no timeout: generation streams are open-ended.
func NewGatewayProvider(url, authToken string) *GatewayProvider {
	return &GatewayProvider{
		url:       url,
		authToken: authToken,
		client:    &http.Client{},
	}
}

// gatewayFrame is one decoded SSE data frame from the gateway
type gatewayFrame struct {
	Token    string               `json:"token,omitempty"`
	ToolCall *checkpoint.ToolCall `json:"toolCall,omitempty"`
	Done     bool                 `json:"done,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type gatewayStream struct {
	ch chan Chunk

	mu  sync.Mutex
	err error
}

func (s *gatewayStream) Chunks() <-chan Chunk { return s.ch }

func (s *gatewayStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *gatewayStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Stream implements Provider
func (p *GatewayProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(map[string]string{
		"sessionId":  req.SessionID,
		"questionId": req.QuestionID,
		"message":    req.Message,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	st := &gatewayStream{ch: make(chan Chunk)}
	go p.consume(ctx, resp, st)
	return st, nil
}

func (p *GatewayProvider) consume(ctx context.Context, resp *http.Response, st *gatewayStream) {
	defer close(st.ch)
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var frame gatewayFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			st.setErr(fmt.Errorf("malformed gateway frame: %w", err))
			return
		}
		switch {
		case frame.Error != "":
			st.setErr(errors.New(frame.Error))
			return
		case frame.Done:
			return
		}

		select {
		case st.ch <- Chunk{Token: frame.Token, ToolCall: frame.ToolCall}:
		case <-ctx.Done():
			st.setErr(ctx.Err())
			return
		}
	}
	if err := scanner.Err(); err != nil {
		st.setErr(fmt.Errorf("gateway stream read failed: %w", err))
	}
}

// disabledProvider fails every request; used when no gateway is configured
type disabledProvider struct{}

// NewDisabledProvider returns a provider that rejects all requests
func NewDisabledProvider() Provider {
	return disabledProvider{}
}

func (disabledProvider) Stream(context.Context, Request) (Stream, error) {
	return nil, ErrNotConfigured
}
