// Package provider describes the realtime backends a session can talk to.
// Each provider knows its defaults, its session configuration schema and
// how to build the signaler that reaches it.
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/vocalink/pkg/configutil"
	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/signaling"
)

type Kind string

const (
	KindOpenAI   Kind = "openai"
	KindOutspeed Kind = "outspeed"
)

// Profile is the static description of a provider.
type Profile struct {
	Kind                      Kind
	Origin                    string
	DefaultModel              string
	DefaultVoice              string
	DefaultTranscriptionModel string
	DefaultTurnDetection      string
	RealtimePath              string
	SessionsPath              string
	SocketPath                string
}

// Credentials carry the long-lived API key. It is an opaque bearer token.
type Credentials struct {
	APIKey string
}

// Params are the per-session settings. Empty fields fall back to the
// provider profile.
type Params struct {
	Origin             string `mapstructure:"origin"`
	Model              string `mapstructure:"model"`
	Voice              string `mapstructure:"voice"`
	TranscriptionModel string `mapstructure:"transcription_model"`
	TurnDetection      string `mapstructure:"turn_detection"`
	Instructions       string `mapstructure:"instructions"`
}

// WithDefaults fills empty fields from the profile.
func (p Params) WithDefaults(profile Profile) Params {
	fill := func(v, def string) string {
		return configutil.StringValue(strings.TrimSpace(v), def)
	}
	p.Origin = fill(p.Origin, profile.Origin)
	p.Model = fill(p.Model, profile.DefaultModel)
	p.Voice = fill(p.Voice, profile.DefaultVoice)
	p.TranscriptionModel = fill(p.TranscriptionModel, profile.DefaultTranscriptionModel)
	p.TurnDetection = fill(p.TurnDetection, profile.DefaultTurnDetection)
	return p
}

// Deps are the transport collaborators a signaler may use.
type Deps struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Header     http.Header
	Logger     *slog.Logger
}

type Provider interface {
	Kind() Kind
	Profile() Profile
	ValidateCredentials(creds Credentials) error
	// BuildSessionConfig returns the session.update event sent as the first
	// message once the peer channel is open.
	BuildSessionConfig(params Params) conversation.Outbound
	NewSignaler(ctx context.Context, params Params, creds Credentials, deps Deps) (signaling.Signaler, error)
}

func requireAPIKey(kind Kind, creds Credentials) error {
	if strings.TrimSpace(creds.APIKey) == "" {
		return errorsx.Newf(errorsx.ReasonConfigMissingCredential, "%s: api key is required", kind)
	}
	return nil
}
