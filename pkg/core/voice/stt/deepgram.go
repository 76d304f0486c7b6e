package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/voiceboard/pkg/core/breaker"
)

const (
	deepgramBaseURL = "https://api.deepgram.com/v1"
	deepgramModel   = "nova-2"
)

// DeepgramProvider transcribes recordings with Deepgram's pre-recorded API.
type DeepgramProvider struct {
	apiKey      string
	baseURL     string
	model       string
	contentType string
	httpClient  *http.Client
	maxRetries  uint64
	backoff     time.Duration
	breaker     *breaker.Breaker
	logger      *slog.Logger
}

// DeepgramOption configures a DeepgramProvider.
type DeepgramOption func(*DeepgramProvider)

// WithDeepgramBaseURL points the provider at another endpoint.
func WithDeepgramBaseURL(u string) DeepgramOption {
	return func(d *DeepgramProvider) { d.baseURL = u }
}

// WithDeepgramModel overrides the nova-2 default.
func WithDeepgramModel(m string) DeepgramOption {
	return func(d *DeepgramProvider) {
		if m != "" {
			d.model = m
		}
	}
}

// WithDeepgramHTTPClient sets the HTTP client.
func WithDeepgramHTTPClient(c *http.Client) DeepgramOption {
	return func(d *DeepgramProvider) { d.httpClient = c }
}

// WithDeepgramRetries sets how many times a 429 or 5xx is retried and the
// initial backoff between tries.
func WithDeepgramRetries(n uint64, backoff time.Duration) DeepgramOption {
	return func(d *DeepgramProvider) {
		d.maxRetries = n
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

// WithDeepgramBreaker routes calls through b.
func WithDeepgramBreaker(b *breaker.Breaker) DeepgramOption {
	return func(d *DeepgramProvider) { d.breaker = b }
}

// WithDeepgramLogger sets the logger.
func WithDeepgramLogger(l *slog.Logger) DeepgramOption {
	return func(d *DeepgramProvider) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDeepgram creates a Deepgram transcriber.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramProvider {
	d := &DeepgramProvider{
		apiKey:      apiKey,
		baseURL:     deepgramBaseURL,
		model:       deepgramModel,
		contentType: "audio/webm",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  2,
		backoff:     200 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string {
	return "deepgram"
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe posts audio and returns the trimmed top transcript.
func (d *DeepgramProvider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if d.apiKey == "" {
		return "", fmt.Errorf("deepgram api key not configured")
	}
	if len(audio) < MinAudioBytes {
		return "", fmt.Errorf("%w: %d bytes (minimum %d)", ErrAudioTooShort, len(audio), MinAudioBytes)
	}
	if len(audio) > MaxAudioBytes {
		return "", fmt.Errorf("%w: %d bytes (maximum %d)", ErrAudioTooLarge, len(audio), MaxAudioBytes)
	}

	var body []byte
	attempt := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.backoff))
	err := retry.Do(ctx, attempt, func(ctx context.Context) error {
		out, err := breaker.Do(d.breaker, func() ([]byte, error) {
			return d.doRequest(ctx, audio)
		})
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.retryable() {
				d.logger.Warn("deepgram transient error", "status", se.status)
				return retry.RetryableError(err)
			}
			return err
		}
		body = out
		return nil
	})
	if err != nil {
		return "", err
	}

	var resp deepgramResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		d.logger.Warn("deepgram response has no alternatives")
		return "", nil
	}
	return strings.TrimSpace(resp.Results.Channels[0].Alternatives[0].Transcript), nil
}

func (d *DeepgramProvider) listenURL() string {
	q := url.Values{}
	q.Set("model", d.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	return strings.TrimRight(d.baseURL, "/") + "/listen?" + q.Encode()
}

func (d *DeepgramProvider) doRequest(ctx context.Context, audio []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.listenURL(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", d.contentType)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("deepgram error %d: %s", e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}
