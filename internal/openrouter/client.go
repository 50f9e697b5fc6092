// Package openrouter is a minimal OpenRouter chat-completion client: one
// bounded request per call, no retries, no streaming.
package openrouter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	apiBase        = "https://openrouter.ai/api/v1"
	requestTimeout = 30 * time.Second
	maxSentences   = 50
)

const defaultSystemPrompt = "You are a Discord bot. Be helpful, polite and respectful. " +
	"Keep replies short and to the point; use bullet points and example code for technical answers."

type Client struct {
	apiKey      string
	chatModel   string
	temperature float64
	siteURL     string
	appName     string
	http        *fasthttp.Client
}

// ChatMessage is one turn of an optional conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single Generate call. The zero value uses the configured
// chat model and the default system prompt.
type Options struct {
	// Context holds archived "speaker: content" lines appended to the system
	// prompt as a style sample.
	Context string
	History []ChatMessage
	// ModelOverride selects a different model for this call.
	ModelOverride string
	// SystemPromptOverride replaces the default system prompt entirely; when
	// set, Context is not appended.
	SystemPromptOverride string
}

func New(apiKey, chatModel string, temperature float64, siteURL, appName string) *Client {
	return &Client{
		apiKey:      apiKey,
		chatModel:   chatModel,
		temperature: temperature,
		siteURL:     siteURL,
		appName:     appName,
		http: &fasthttp.Client{
			MaxConnsPerHost:           16,
			MaxIdleConnDuration:       90 * time.Second,
			ReadTimeout:               requestTimeout,
			WriteTimeout:              10 * time.Second,
			MaxResponseBodySize:       4 * 1024 * 1024,
			MaxIdemponentCallAttempts: 1,
		},
	}
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one completion request and returns the model's text. A
// successful call with no content returns ("", nil); callers decide whether
// that is worth saying anything about.
func (c *Client) Generate(prompt string, opts *Options) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("openrouter api key is not configured")
	}
	if opts == nil {
		opts = &Options{}
	}

	systemPrompt := opts.SystemPromptOverride
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
		if opts.Context != "" {
			systemPrompt += "\n\nExample messages (copy their style):\n" + opts.Context
		}
	}

	messages := make([]ChatMessage, 0, len(opts.History)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, opts.History...)
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})

	model := c.chatModel
	if opts.ModelOverride != "" {
		model = opts.ModelOverride
	}

	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(apiBase + "/chat/completions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.siteURL)
	req.Header.Set("X-Title", c.appName)
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, requestTimeout); err != nil {
		return "", fmt.Errorf("openrouter request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("openrouter returned status %d", resp.StatusCode())
	}

	var result completionResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("openrouter response parse failed: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openrouter response had no choices")
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	return trimSentences(text, maxSentences), nil
}

// trimSentences keeps at most max sentences, where a sentence ends at ., ! or
// ? followed by whitespace or end of text.
func trimSentences(text string, max int) string {
	if max <= 0 {
		return text
	}

	count := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) {
				return text
			}
			if text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' || text[i+1] == '\r' {
				count++
				if count >= max {
					return strings.TrimSpace(text[:i+1])
				}
			}
		}
	}
	return text
}
