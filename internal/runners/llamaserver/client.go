package llamaserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"inferd/internal/runners/gen"
)

// client talks to one llama-server over its OpenAI-compatible API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float32  `json:"temperature"`
	TopP          float32  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
	Stream        bool     `json:"stream"`
}

// streamChoice covers both completion (text) and chat (delta) chunks.
type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
	// native /completion streams carry content at the top level
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (c client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

// healthy reports whether the server lists its models.
func (c client) healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health status %s", resp.Status)
	}
	return nil
}

// complete streams a completion, calling onToken per fragment when set.
// It returns the full text and the finish reason.
func (c client) complete(ctx context.Context, prompt string, p gen.Params, onToken func(string) error) (string, string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:        prompt,
		MaxTokens:     p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		Stop:          p.Stop,
		Seed:          p.Seed,
		RepeatPenalty: p.RepeatPenalty,
		Stream:        true,
	})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", fmt.Errorf("llama-server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var text strings.Builder
	var finish string
	emit := func(frag string) error {
		if frag == "" {
			return nil
		}
		text.WriteString(frag)
		if onToken != nil {
			return onToken(frag)
		}
		return nil
	}
	rd := bufio.NewReader(resp.Body)
	for {
		line, rerr := rd.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg streamResponse
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				c.log.Debug().Str("line", l).Msg("unknown stream line")
			} else if len(msg.Choices) > 0 {
				ch := msg.Choices[0]
				if err := emit(ch.Text + ch.Delta.Content); err != nil {
					return text.String(), finish, err
				}
				if ch.FinishReason != "" {
					finish = ch.FinishReason
				}
			} else {
				if err := emit(msg.Content); err != nil {
					return text.String(), finish, err
				}
				if msg.Stop && finish == "" {
					finish = "stop"
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return text.String(), finish, ctx.Err()
			}
			return text.String(), finish, rerr
		}
		if ctx.Err() != nil {
			return text.String(), finish, ctx.Err()
		}
	}
	return text.String(), finish, nil
}
