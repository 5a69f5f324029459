// Package relay drives one upstream call and re-emits its events to the
// client while assembling the complete logical message, whatever the chunking.
package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/akiho/torii/internal/adapter"
	"github.com/akiho/torii/internal/contract"
	toriiErrors "github.com/akiho/torii/internal/errors"
	"github.com/akiho/torii/internal/upstream"
)

// Sink receives client-visible events in arrival order.
type Sink interface {
	Send(chunk openai.ChatCompletionStreamResponse) error
}

// Result is the fully-assembled turn, available even when the stream aborted.
type Result struct {
	ID           string
	Created      int64
	Model        string
	Message      contract.Message
	FinishReason string
	Usage        *contract.Usage
	TimeToFirst  time.Duration
	Aborted      bool
}

// FinalizeFunc runs exactly once per stream that produced at least one event:
// policy review, accounting, and trailing emission happen here.
type FinalizeFunc func(res Result)

type relayState int

const (
	stateInit relayState = iota
	stateStreaming
	stateNormalFinish
	stateAborted
)

type Relay struct {
	Sink     Sink
	Finalize FinalizeFunc
}

// Stream consumes the upstream chunk stream until the terminal sentinel,
// cancellation, or failure. Chunks that carry no tool-call delta are forwarded
// verbatim; tool-call deltas are withheld and accumulated, their disposition
// decided by policy during finalize. The finalize hook is guaranteed to run on
// every exit path once the first event has been observed; before that, errors
// propagate without producing a result.
func (r *Relay) Stream(ctx context.Context, stream upstream.ChunkStream) (res Result, err error) {
	defer stream.Close()

	acc := newAccumulator()
	start := time.Now()
	state := stateInit

	defer func() {
		if state == stateInit {
			return
		}
		res = acc.result()
		res.Aborted = state != stateNormalFinish
		if r.Finalize != nil {
			r.Finalize(res)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if state == stateStreaming {
				state = stateAborted
			}
			return res, ctx.Err()
		default:
		}

		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			switch {
			case state == stateInit:
				return res, toriiErrors.Internal("upstream stream ended without events")
			case acc.finish == "":
				// stream ended without a terminal chunk
				state = stateAborted
			default:
				state = stateNormalFinish
			}
			return res, nil
		}
		if recvErr != nil {
			if state == stateStreaming {
				state = stateAborted
			}
			return res, toriiErrors.MapUpstream(recvErr)
		}

		if state == stateInit {
			state = stateStreaming
			acc.ttf = time.Since(start)
		}

		if acc.apply(chunk) && r.Sink != nil {
			if sendErr := r.Sink.Send(chunk); sendErr != nil {
				state = stateAborted
				return res, sendErr
			}
		}
	}
}

// FromResponse assembles a Result from a single non-streaming response so the
// finalize path is identical for both call shapes.
func FromResponse(resp openai.ChatCompletionResponse) (Result, error) {
	if len(resp.Choices) == 0 {
		return Result{}, toriiErrors.Internal("upstream returned no choices")
	}

	choice := resp.Choices[0]
	return Result{
		ID:           resp.ID,
		Created:      resp.Created,
		Model:        resp.Model,
		Message:      adapter.FromWireMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage:        adapter.FromWireUsage(&resp.Usage),
	}, nil
}
