package inference

import (
	"context"
	"strings"
)

// Collect streams a completion and returns the accumulated text.
// A failure part way through discards what was received.
func Collect(ctx context.Context, p Provider, req *ChatRequest) (string, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		chunk, err := stream.Recv()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}
		sb.WriteString(chunk.Delta)
		if chunk.Done {
			break
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
