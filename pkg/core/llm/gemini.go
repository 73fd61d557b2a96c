package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/attune-voice/attune/pkg/core"
)

// Gemini generates assistant replies via the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a Gemini provider with the given API key and model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// StreamReply starts one streamed generation call. Increments surface as the
// vendor produces them; the caller drains Next until io.EOF or abandons the
// invocation with Close.
func (g *Gemini) StreamReply(ctx context.Context, req Request) (*ReplyStream, error) {
	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, t := range req.Turns {
		var role genai.Role = genai.RoleUser
		if t.Speaker == SpeakerAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	if len(contents) == 0 {
		return nil, core.NewInvalidRequestError("generation request has no turns")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	seq := g.client.Models.GenerateContentStream(streamCtx, g.model, contents, cfg)
	next, stop := iter.Pull2(seq)

	// iter.Pull2 forbids concurrent next/stop calls, while ReplyStream
	// allows Close during Next.
	var mu sync.Mutex
	var closed bool

	return NewReplyStream(
		func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			for {
				if closed {
					return "", io.EOF
				}
				resp, err, ok := next()
				if !ok {
					return "", io.EOF
				}
				if err != nil {
					return "", core.NewGenerationInterruptedError(err)
				}
				text := resp.Text()
				if text == "" {
					continue
				}
				return text, nil
			}
		},
		func() {
			cancel()
			mu.Lock()
			defer mu.Unlock()
			if !closed {
				closed = true
				stop()
			}
		},
	), nil
}
