package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/harunnryd/vocalink/pkg/configutil"
	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/signaling"
)

// Outspeed trades the API key for an ephemeral credential, then runs the
// duplex handshake over a websocket authenticated by that credential.
type Outspeed struct{}

func NewOutspeed() *Outspeed { return &Outspeed{} }

func (Outspeed) Kind() Kind { return KindOutspeed }

func (Outspeed) Profile() Profile {
	return Profile{
		Kind:                      KindOutspeed,
		Origin:                    "https://api.outspeed.com",
		DefaultModel:              "MiniCPM-o-2_6",
		DefaultVoice:              "male",
		DefaultTranscriptionModel: "whisper-v3-turbo",
		DefaultTurnDetection:      "server_vad",
		SessionsPath:              "/v1/realtime/sessions",
		SocketPath:                "/v1/realtime/ws",
	}
}

func (o Outspeed) ValidateCredentials(creds Credentials) error {
	return requireAPIKey(o.Kind(), creds)
}

// BuildSessionConfig uses Outspeed's schema: the model is part of the session
// and no modalities list is sent.
func (o Outspeed) BuildSessionConfig(params Params) conversation.Outbound {
	params = params.WithDefaults(o.Profile())
	session := map[string]any{
		"model": params.Model,
		"voice": params.Voice,
		"input_audio_transcription": map[string]any{
			"model": params.TranscriptionModel,
		},
		"turn_detection": map[string]any{
			"type": params.TurnDetection,
		},
	}
	if params.Instructions != "" {
		session["instructions"] = params.Instructions
	}
	return conversation.NewSessionUpdate(session)
}

// sessionParams is the body of the credential request.
func (o Outspeed) sessionParams(params Params) map[string]any {
	out := map[string]any{
		"model": params.Model,
		"voice": params.Voice,
	}
	if params.Instructions != "" {
		out["instructions"] = params.Instructions
	}
	return out
}

func (o Outspeed) NewSignaler(_ context.Context, params Params, creds Credentials, deps Deps) (signaling.Signaler, error) {
	if err := o.ValidateCredentials(creds); err != nil {
		return nil, err
	}
	profile := o.Profile()
	params = params.WithDefaults(profile)
	origin, err := configutil.RequireOrigin(params.Origin, "provider_settings.origin")
	if err != nil {
		return nil, err
	}
	sessions := origin.JoinPath(profile.SessionsPath)

	return signaling.NewEphemeralSocketSignaler(signaling.EphemeralSocketConfig{
		Credentials: signaling.NewEphemeralKeyClient(signaling.HTTPConfig{
			Endpoint: sessions.String(),
			APIKey:   creds.APIKey,
			Header:   deps.Header,
			Client:   deps.HTTPClient,
			Logger:   deps.Logger,
		}),
		Params: o.sessionParams(params),
		SocketURL: func(credential string) (string, error) {
			return socketURL(origin, profile.SocketPath, credential)
		},
		Socket: signaling.SocketConfig{Dialer: deps.Dialer},
		Logger: deps.Logger,
	}), nil
}

// socketURL maps the https origin onto wss and attaches the credential.
func socketURL(origin *url.URL, path, credential string) (string, error) {
	u := origin.JoinPath(path)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
	u.RawQuery = url.Values{"client_secret": []string{credential}}.Encode()
	return u.String(), nil
}
