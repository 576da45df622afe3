package provider

import (
	"context"
	"net/url"

	"github.com/harunnryd/vocalink/pkg/configutil"
	"github.com/harunnryd/vocalink/pkg/conversation"
	"github.com/harunnryd/vocalink/pkg/signaling"
)

// OpenAI posts the offer over HTTPS and reads the answer from the response.
type OpenAI struct{}

func NewOpenAI() *OpenAI { return &OpenAI{} }

func (OpenAI) Kind() Kind { return KindOpenAI }

func (OpenAI) Profile() Profile {
	return Profile{
		Kind:                      KindOpenAI,
		Origin:                    "https://api.openai.com",
		DefaultModel:              "gpt-4o-realtime-preview-2024-12-17",
		DefaultVoice:              "alloy",
		DefaultTranscriptionModel: "whisper-1",
		DefaultTurnDetection:      "server_vad",
		RealtimePath:              "/v1/realtime",
		SessionsPath:              "/v1/realtime/sessions",
	}
}

func (o OpenAI) ValidateCredentials(creds Credentials) error {
	return requireAPIKey(o.Kind(), creds)
}

func (o OpenAI) BuildSessionConfig(params Params) conversation.Outbound {
	params = params.WithDefaults(o.Profile())
	session := map[string]any{
		"modalities": []string{"text", "audio"},
		"voice":      params.Voice,
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

func (o OpenAI) NewSignaler(_ context.Context, params Params, creds Credentials, deps Deps) (signaling.Signaler, error) {
	if err := o.ValidateCredentials(creds); err != nil {
		return nil, err
	}
	profile := o.Profile()
	params = params.WithDefaults(profile)
	origin, err := configutil.RequireOrigin(params.Origin, "provider_settings.origin")
	if err != nil {
		return nil, err
	}
	endpoint := origin.JoinPath(profile.RealtimePath)
	endpoint.RawQuery = url.Values{"model": []string{params.Model}}.Encode()

	return signaling.NewSDPExchanger(signaling.HTTPConfig{
		Endpoint: endpoint.String(),
		APIKey:   creds.APIKey,
		Header:   deps.Header,
		Client:   deps.HTTPClient,
		Logger:   deps.Logger,
	}), nil
}
