package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// ErrWorkerOutput indicates the worker produced no decodable response.
var ErrWorkerOutput = errors.New("invalid resolution worker output")

const maxMessageBytes = 1 << 20

// Request is the single message sent to a resolution worker.
type Request struct {
	URL               string        `json:"url"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	SettleDelay       time.Duration `json:"settle_delay"`
	UserAgent         string        `json:"user_agent,omitempty"`
}

// Response is the single message a resolution worker reports back. FinalURL
// holds the input URL when Error is set.
type Response struct {
	FinalURL string `json:"final_url"`
	Error    string `json:"error,omitempty"`
}

// Renderer loads a URL in a rendering context and reports where it ended up.
type Renderer interface {
	FinalURL(ctx context.Context, req Request) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req Request) (string, error)

// FinalURL calls f.
func (f RendererFunc) FinalURL(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ServeWorker is the worker-side half of the protocol: it decodes one Request
// from in, renders it, and always encodes one Response to out. Render errors
// and panics are reported in Response.Error with FinalURL set to the input.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, renderer Renderer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var req Request
	if err := json.NewDecoder(io.LimitReader(in, maxMessageBytes)).Decode(&req); err != nil {
		logger.Warn("decode resolution request failed", zap.Error(err))
		return writeResponse(out, Response{Error: fmt.Sprintf("decode request: %v", err)})
	}

	resp := Response{FinalURL: req.URL}
	final, err := safeRender(ctx, renderer, req)
	switch {
	case err != nil:
		logger.Warn("render failed", zap.String("url", req.URL), zap.Error(err))
		resp.Error = err.Error()
	case final != "":
		resp.FinalURL = final
	}
	return writeResponse(out, resp)
}

func safeRender(ctx context.Context, renderer Renderer, req Request) (final string, err error) {
	if renderer == nil {
		return "", errors.New("no renderer configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("renderer panic: %v", rec)
		}
	}()
	return renderer.FinalURL(ctx, req)
}

func writeResponse(out io.Writer, resp Response) error {
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		return fmt.Errorf("encode resolution response: %w", err)
	}
	return nil
}

func decodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrWorkerOutput, err)
	}
	return resp, nil
}
