package openai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docrewrite/docrewrite/internal/ailink/driver"
)

// ErrMalformedResponse marks a 2xx response that carries no usable text.
var ErrMalformedResponse = errors.New("malformed completion response")

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []driver.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal string  `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *driver.Usage `json:"usage,omitempty"`
}

func newChatRequest(req *driver.Request) (*chatRequest, error) {
	switch {
	case req == nil:
		return nil, errors.New("request is required")
	case strings.TrimSpace(req.Model) == "":
		return nil, errors.New("model is required")
	case len(req.Messages) == 0:
		return nil, errors.New("messages are required")
	}
	for i, msg := range req.Messages {
		if msg.Role == "" {
			return nil, fmt.Errorf("message %d has no role", i)
		}
	}
	return &chatRequest{Model: req.Model, Messages: req.Messages, Temperature: req.Temperature}, nil
}

// text returns the first choice's content. A null content, a refusal or an
// empty choice list is malformed.
func (r *chatResponse) text() (*driver.Response, error) {
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response choices", ErrMalformedResponse)
	}
	first := r.Choices[0]
	if first.Message.Content == nil {
		if first.Message.Refusal != "" {
			return nil, fmt.Errorf("%w: refused: %s", ErrMalformedResponse, first.Message.Refusal)
		}
		return nil, fmt.Errorf("%w: missing message content", ErrMalformedResponse)
	}
	return &driver.Response{
		Text:         *first.Message.Content,
		FinishReason: first.FinishReason,
		Usage:        r.Usage,
	}, nil
}
