// Package stt provides speech-to-text for recorded voice commands.
package stt

import (
	"context"
	"errors"
)

// Transcriber converts one complete recording to text. An empty string with a
// nil error means no speech was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

const (
	// MinAudioBytes is the smallest recording worth sending upstream.
	MinAudioBytes = 100
	// MaxAudioBytes is the largest recording accepted.
	MaxAudioBytes = 10 << 20
)

var (
	ErrAudioTooShort = errors.New("audio too short")
	ErrAudioTooLarge = errors.New("audio too large")
)
