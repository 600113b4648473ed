package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"smart-progress/internal/config"
	"smart-progress/internal/model"
	"smart-progress/internal/signal"
)

// AIService classifies progress messages through an OpenAI-compatible chat endpoint.
type AIService struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{baseURL: strings.TrimRight(cfg.BaseURL, "/"), apiKey: cfg.APIKey, model: cfg.Model, client: &http.Client{}}
}

// Enabled reports whether an endpoint is configured.
func (s *AIService) Enabled() bool { return s != nil && s.baseURL != "" && s.apiKey != "" }

func (s *AIService) chat(ctx context.Context, system, user string) (string, error) {
	body := map[string]interface{}{
		"model":       s.model,
		"stream":      false,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/llm-proxy/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("moi-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, data)
	}

	data, _ := io.ReadAll(resp.Body)
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return result.Choices[0].Message.Content, nil
}

const classifyPrompt = `You label one team chat message about software work.
Reply with JSON only: {"category":"...","sentiment":"...","summary":"..."}.
category is one of completed, blocked, delayed, in_progress, unknown.
- completed: work was finished, merged, shipped or fixed
- blocked: work cannot continue until something else happens
- delayed: work is late or was postponed
- in_progress: work is under way
- unknown: not about work progress
sentiment is one of positive, neutral, negative. summary is at most 15 words in the message's language.`

// Classify implements signal.Classifier. Replies that are not the expected JSON are errors
// so the caller falls back to the keyword lexicon.
func (s *AIService) Classify(ctx context.Context, text string) (signal.Classification, error) {
	if !s.Enabled() {
		return signal.Classification{}, fmt.Errorf("classifier not configured")
	}
	result, err := s.chat(ctx, classifyPrompt, text)
	if err != nil {
		return signal.Classification{}, fmt.Errorf("classify: %w", err)
	}
	var parsed struct {
		Category  string `json:"category"`
		Sentiment string `json:"sentiment"`
		Summary   string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripFence(result)), &parsed); err != nil {
		return signal.Classification{}, fmt.Errorf("classify: unparseable reply: %w", err)
	}
	c := signal.Classification{
		Category:  model.Category(strings.ToLower(strings.TrimSpace(parsed.Category))),
		Sentiment: model.Sentiment(strings.ToLower(strings.TrimSpace(parsed.Sentiment))),
		Summary:   strings.TrimSpace(parsed.Summary),
	}
	if !c.Category.Valid() {
		return signal.Classification{}, fmt.Errorf("classify: unknown category %q", parsed.Category)
	}
	return c, nil
}

// Ping sends a trivial classification to check the endpoint.
func (s *AIService) Ping(ctx context.Context) error {
	_, err := s.Classify(ctx, "ping")
	return err
}

// stripFence removes a ```json fence some models wrap replies in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
