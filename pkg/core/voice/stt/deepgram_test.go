package stt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func audio(n int) []byte { return bytes.Repeat([]byte{0x1a}, n) }

func TestNewDeepgram_DefaultsAndName(t *testing.T) {
	client := &http.Client{}
	d := NewDeepgram("k", WithDeepgramHTTPClient(client), WithDeepgramModel("nova-3"))
	if d.httpClient != client {
		t.Fatal("expected custom http client to be set")
	}
	if d.model != "nova-3" {
		t.Fatalf("model = %q, want nova-3", d.model)
	}
	if d.Name() != "deepgram" {
		t.Fatalf("name = %q, want deepgram", d.Name())
	}
}

func TestTranscribe_PostsAudioAndExtractsTranscript(t *testing.T) {
	var gotAuth, gotType, gotQuery string
	var gotLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotLen = len(b)
		fmt.Fprint(w, `{"results":{"channels":[{"alternatives":[{"transcript":"  add a database  ","confidence":0.9}]}]}}`)
	}))
	defer server.Close()

	d := NewDeepgram("secret", WithDeepgramBaseURL(server.URL))
	text, err := d.Transcribe(t.Context(), audio(512))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "add a database" {
		t.Fatalf("text = %q", text)
	}
	if gotAuth != "Token secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotType != "audio/webm" {
		t.Fatalf("Content-Type = %q", gotType)
	}
	if gotQuery != "model=nova-2&punctuate=true&smart_format=true" {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotLen != 512 {
		t.Fatalf("body len = %d, want 512", gotLen)
	}
}

func TestTranscribe_SizeBounds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := NewDeepgram("k", WithDeepgramBaseURL(server.URL))
	if _, err := d.Transcribe(t.Context(), audio(MinAudioBytes-1)); !errors.Is(err, ErrAudioTooShort) {
		t.Fatalf("err = %v, want ErrAudioTooShort", err)
	}
	if _, err := d.Transcribe(t.Context(), audio(MaxAudioBytes+1)); !errors.Is(err, ErrAudioTooLarge) {
		t.Fatalf("err = %v, want ErrAudioTooLarge", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("upstream called %d times for rejected audio", calls.Load())
	}
}

func TestTranscribe_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"results":{"channels":[{"alternatives":[{"transcript":"ok"}]}]}}`)
	}))
	defer server.Close()

	d := NewDeepgram("k", WithDeepgramBaseURL(server.URL), WithDeepgramRetries(2, time.Millisecond))
	text, err := d.Transcribe(t.Context(), audio(200))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "ok" || calls.Load() != 3 {
		t.Fatalf("text = %q calls = %d", text, calls.Load())
	}
}

func TestTranscribe_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad audio")
	}))
	defer server.Close()

	d := NewDeepgram("k", WithDeepgramBaseURL(server.URL), WithDeepgramRetries(3, time.Millisecond))
	_, err := d.Transcribe(t.Context(), audio(200))
	var se *statusError
	if !errors.As(err, &se) || se.status != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 status error", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_NoAlternativesIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"channels":[]}}`)
	}))
	defer server.Close()

	text, err := NewDeepgram("k", WithDeepgramBaseURL(server.URL)).Transcribe(t.Context(), audio(200))
	if err != nil || text != "" {
		t.Fatalf("text = %q err = %v", text, err)
	}
}
