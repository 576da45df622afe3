package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/logging"
	"github.com/harunnryd/vocalink/pkg/redact"
	"github.com/pion/webrtc/v4"
)

const (
	contentTypeSDP  = "application/sdp"
	contentTypeJSON = "application/json"

	// maxErrorBody caps how much of a failed response ends up in an error.
	maxErrorBody = 512
)

// HTTPConfig configures the single-exchange path.
type HTTPConfig struct {
	// Endpoint is the full URL the offer is posted to, query included.
	Endpoint string
	APIKey   string
	Header   http.Header
	Client   *http.Client
	Logger   *slog.Logger
}

// SDPExchanger posts the raw offer and reads the answer from the response
// body. Candidates cannot be carried separately, so the offer is only sent
// once gathering has completed.
type SDPExchanger struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

func NewSDPExchanger(cfg HTTPConfig) *SDPExchanger {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &SDPExchanger{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(cfg.Logger, "signaling_http"),
	}
}

func (x *SDPExchanger) Name() string { return "https_sdp" }

func (x *SDPExchanger) Trickle() bool { return false }

func (x *SDPExchanger) Negotiate(ctx context.Context, offerSDP string, sink Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.Endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("build offer request: %w", err), errorsx.ReasonConfigInvalidURL)
	}
	applyHeaders(req, x.cfg.Header, x.cfg.APIKey, contentTypeSDP)
	req.Header.Set("Accept", contentTypeSDP)

	x.logger.Info("signaling_offer_post",
		slog.String("endpoint", redact.URL(x.cfg.Endpoint)),
		slog.Int("offer_bytes", len(offerSDP)))

	body, err := doExchange(x.client, req)
	if err != nil {
		x.logger.Error("signaling_offer_failed", slog.String("error", err.Error()))
		return err
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return errorsx.Newf(errorsx.ReasonSignalingProtocol, "signaling exchange returned an empty answer")
	}
	x.logger.Info("signaling_answer_received", slog.Int("answer_bytes", len(answer)))

	// The response itself is the whole transport: once it arrived, the
	// channel is as ready as it will ever be.
	sink.TransportReady()
	return sink.ApplyAnswer(answer)
}

// SendCandidate is a no-op: candidates are embedded in the offer.
func (x *SDPExchanger) SendCandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	x.logger.Debug("signaling_candidate_embedded", slog.String("candidate", c.Candidate))
	return nil
}

func (x *SDPExchanger) Close() error { return nil }

// EphemeralKeyClient trades a long-lived API key for a short-lived session
// credential.
type EphemeralKeyClient struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

func NewEphemeralKeyClient(cfg HTTPConfig) *EphemeralKeyClient {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &EphemeralKeyClient{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(cfg.Logger, "signaling_ephemeral"),
	}
}

type ephemeralResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Value string `json:"value"`
}

// Exchange posts the session parameters and returns the ephemeral credential.
func (c *EphemeralKeyClient) Exchange(ctx context.Context, params map[string]any) (string, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("encode session parameters: %w", err), errorsx.ReasonConfigInvalid)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("build credential request: %w", err), errorsx.ReasonConfigInvalidURL)
	}
	applyHeaders(req, c.cfg.Header, c.cfg.APIKey, contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)

	c.logger.Info("signaling_credential_request",
		slog.String("endpoint", redact.URL(c.cfg.Endpoint)),
		slog.String("api_key", redact.Secret(c.cfg.APIKey)))

	body, err := doExchange(c.client, req)
	if err != nil {
		c.logger.Error("signaling_credential_failed", slog.String("error", err.Error()))
		return "", err
	}
	var resp ephemeralResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("decode credential response: %w", err), errorsx.ReasonSignalingProtocol)
	}
	value := resp.Value
	if resp.ClientSecret != nil && resp.ClientSecret.Value != "" {
		value = resp.ClientSecret.Value
	}
	if strings.TrimSpace(value) == "" {
		return "", errorsx.Newf(errorsx.ReasonSignalingProtocol, "credential response missing client_secret.value")
	}
	c.logger.Info("signaling_credential_received", slog.String("client_secret", redact.Secret(value)))
	return value, nil
}

func applyHeaders(req *http.Request, extra http.Header, apiKey, contentType string) {
	for k, values := range extra {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func doExchange(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errorsx.Wrap(ctxErr, errorsx.ReasonNegotiationCancelled)
		}
		return nil, errorsx.Wrap(fmt.Errorf("signaling request: %w", err), errorsx.ReasonSignalingHTTP)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("read signaling response: %w", err), errorsx.ReasonSignalingHTTP)
	}
	return body, nil
}

// StatusError reports a non-2xx signaling response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("signaling exchange failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("signaling exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// Unwrap exposes the reason code to errorsx.
func (e *StatusError) Unwrap() error {
	return errorsx.ReasonedError{Reason: errorsx.ReasonSignalingHTTPStatus}
}
