package vocalink

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/harunnryd/vocalink/pkg/configutil"
	"github.com/harunnryd/vocalink/pkg/errorsx"
	"github.com/harunnryd/vocalink/pkg/provider"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. VOCALINK_API_KEY.
const EnvPrefix = "VOCALINK"

type Config struct {
	Provider         string          `mapstructure:"provider" yaml:"provider"`
	APIKey           string          `mapstructure:"api_key" yaml:"api_key"`
	ProviderSettings map[string]any  `mapstructure:"provider_settings" yaml:"provider_settings"`
	Signaling        SignalingConfig `mapstructure:"signaling" yaml:"signaling"`
	Peer             PeerConfig      `mapstructure:"peer" yaml:"peer"`
	Audio            AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Metrics          MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Privacy          PrivacyConfig   `mapstructure:"privacy" yaml:"privacy"`
	LogLevel         string          `mapstructure:"log_level" yaml:"log_level"`
	LogFormat        string          `mapstructure:"log_format" yaml:"log_format"`
}

// SignalingConfig bounds the signaling round trips. Zero means no timeout.
type SignalingConfig struct {
	HTTPTimeoutMS      int `mapstructure:"http_timeout_ms" yaml:"http_timeout_ms"`
	HandshakeTimeoutMS int `mapstructure:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
}

type PeerConfig struct {
	ICEServers       []string `mapstructure:"ice_servers" yaml:"ice_servers"`
	ICEUsername      string   `mapstructure:"ice_username" yaml:"ice_username"`
	ICECredential    string   `mapstructure:"ice_credential" yaml:"ice_credential"`
	IncludeLoopback  bool     `mapstructure:"include_loopback" yaml:"include_loopback"`
	DisableAudio     bool     `mapstructure:"disable_audio" yaml:"disable_audio"`
	DataChannelLabel string   `mapstructure:"data_channel_label" yaml:"data_channel_label"`
}

type AudioConfig struct {
	ModeHoldPackets int `mapstructure:"mode_hold_packets" yaml:"mode_hold_packets"`
}

type MetricsConfig struct {
	// JSONLPath writes every metrics event as a JSON line. Empty disables it.
	JSONLPath string `mapstructure:"jsonl_path" yaml:"jsonl_path"`
	// TimelineDir receives one JSONL timeline per session.
	TimelineDir   string `mapstructure:"timeline_dir" yaml:"timeline_dir"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
	// SampleRate keeps that fraction of events; zero keeps all of them.
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Buffer     int     `mapstructure:"buffer" yaml:"buffer"`
	Log        bool    `mapstructure:"log" yaml:"log"`
}

type PrivacyConfig struct {
	RedactTranscripts bool `mapstructure:"redact_transcripts" yaml:"redact_transcripts"`
}

// settingsSchema lists the keys accepted under provider_settings.
var settingsSchema = configutil.Schema{
	Optional: []string{"origin", "model", "voice", "transcription_model", "turn_detection", "instructions"},
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("provider", string(provider.KindOpenAI))
	v.SetDefault("api_key", "")
	v.SetDefault("signaling.http_timeout_ms", 0)
	v.SetDefault("signaling.handshake_timeout_ms", 0)
	v.SetDefault("peer.include_loopback", false)
	v.SetDefault("peer.disable_audio", false)
	v.SetDefault("peer.data_channel_label", "")
	v.SetDefault("audio.mode_hold_packets", 0)
	v.SetDefault("metrics.jsonl_path", "")
	v.SetDefault("metrics.timeline_dir", "")
	v.SetDefault("metrics.retention_days", 0)
	v.SetDefault("metrics.sample_rate", 1.0)
	v.SetDefault("metrics.buffer", 256)
	v.SetDefault("metrics.log", false)
	v.SetDefault("privacy.redact_transcripts", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads a YAML/JSON/TOML file. Environment variables with the
// VOCALINK_ prefix override file values and ${VAR} references in string
// values are expanded.
func LoadConfig(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigInvalid)
	}
	return decode(v)
}

// ConfigFromEnv builds a configuration from defaults and environment
// variables only.
func ConfigFromEnv() (Config, error) {
	return decode(newViper())
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfigInvalid)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the provider name and settings. A missing API key is left
// to the provider so it surfaces when the session starts.
func (c *Config) Validate() error {
	if _, err := provider.DefaultRegistry().Lookup(c.Provider); err != nil {
		return err
	}
	if err := configutil.ValidateSettings(c.ProviderSettings, settingsSchema); err != nil {
		return fmt.Errorf("provider_settings: %w", err)
	}
	if c.Signaling.HTTPTimeoutMS < 0 || c.Signaling.HandshakeTimeoutMS < 0 {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "signaling timeouts must not be negative")
	}
	if c.Metrics.SampleRate < 0 || c.Metrics.SampleRate > 1 {
		return errorsx.Newf(errorsx.ReasonConfigInvalid, "metrics.sample_rate must be within [0,1]")
	}
	return nil
}

// Params decodes provider_settings into session parameters.
func (c *Config) Params() (provider.Params, error) {
	var params provider.Params
	if err := configutil.DecodeSettings(c.ProviderSettings, &params); err != nil {
		return provider.Params{}, fmt.Errorf("provider_settings: %w", err)
	}
	return params, nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.ProviderSettings = expandSettings(cfg.ProviderSettings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
