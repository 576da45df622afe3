package peer

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds the ICE servers used during candidate gathering.
type ICEConfig struct {
	// Servers is tried in order. Empty means host candidates only.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds a single-server config. Blank URLs are dropped;
// when none remain the config gathers host candidates only.
func ICEConfigFromURLs(urls []string, username, credential string) ICEConfig {
	var cleaned []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       cleaned,
				Username:   username,
				Credential: credential,
			},
		},
	}
}
