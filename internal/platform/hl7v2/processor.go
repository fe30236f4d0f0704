package hl7v2

import (
	"context"

	"github.com/rs/zerolog"
)

// Inbound is one received HL7 message as handed to a Processor. Raw is
// always present; Msg is nil whenever the parser could not make sense of
// the payload, so processors must tolerate working from the raw text alone.
type Inbound struct {
	Raw    string
	Msg    *Message
	Remote string
}

// MessageType returns the parsed MSH-9 value, or "" for unparseable input.
func (in Inbound) MessageType() string {
	if in.Msg == nil {
		return ""
	}
	return in.Msg.Type
}

// Processor is the boundary between the transport core and the embedding
// application. A nil return acknowledges the message with AA; an error (or
// a panic, which the caller recovers) acknowledges it with AE. The call may
// block arbitrarily; no timeout is imposed here.
type Processor interface {
	Process(ctx context.Context, in Inbound) error
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, in Inbound) error

func (f ProcessorFunc) Process(ctx context.Context, in Inbound) error {
	return f(ctx, in)
}

// AcceptAll returns a Processor that logs each message and accepts it.
// It is the standalone deployment mode, useful for drain tests and for
// running the listener without a database.
func AcceptAll(logger zerolog.Logger) Processor {
	return ProcessorFunc(func(_ context.Context, in Inbound) error {
		logger.Info().
			Str("remote", in.Remote).
			Str("type", in.MessageType()).
			Int("bytes", len(in.Raw)).
			Msg("hl7 message accepted")
		return nil
	})
}
