package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigMissingCredential ReasonCode = "config_missing_credential"
	ReasonConfigInvalidURL        ReasonCode = "config_invalid_url"
	ReasonConfigUnknownProvider   ReasonCode = "config_unknown_provider"
	ReasonConfigInvalid           ReasonCode = "config_invalid"

	ReasonSignalingHTTP       ReasonCode = "signaling_http"
	ReasonSignalingHTTPStatus ReasonCode = "signaling_http_status"
	ReasonSignalingSocket     ReasonCode = "signaling_socket"
	ReasonSignalingProtocol   ReasonCode = "signaling_protocol"
	ReasonSignalingServer     ReasonCode = "signaling_server_error"
	ReasonSignalingMalformed  ReasonCode = "signaling_malformed_message"

	ReasonNegotiationPeer              ReasonCode = "negotiation_peer"
	ReasonNegotiationOffer             ReasonCode = "negotiation_offer"
	ReasonNegotiationLocalDescription  ReasonCode = "negotiation_local_description"
	ReasonNegotiationRemoteDescription ReasonCode = "negotiation_remote_description"
	ReasonNegotiationCancelled         ReasonCode = "negotiation_cancelled"

	ReasonCandidateSend   ReasonCode = "candidate_send"
	ReasonPeerChannelSend ReasonCode = "peer_channel_send"
	ReasonPeerFailed      ReasonCode = "peer_failed"
)

// Category groups reason codes by how the session reacts to them.
type Category string

const (
	CategoryUnknown       Category = "unknown"
	CategoryConfiguration Category = "configuration"
	CategoryTransport     Category = "transport"
	CategoryProtocol      Category = "protocol"
	CategoryNegotiation   Category = "negotiation"
	CategoryTransient     Category = "transient"
)

var categories = map[ReasonCode]Category{
	ReasonConfigMissingCredential: CategoryConfiguration,
	ReasonConfigInvalidURL:        CategoryConfiguration,
	ReasonConfigUnknownProvider:   CategoryConfiguration,
	ReasonConfigInvalid:           CategoryConfiguration,

	ReasonSignalingHTTP:       CategoryTransport,
	ReasonSignalingHTTPStatus: CategoryTransport,
	ReasonSignalingSocket:     CategoryTransport,
	ReasonPeerFailed:          CategoryTransport,

	ReasonSignalingProtocol: CategoryProtocol,
	ReasonSignalingServer:   CategoryProtocol,

	ReasonNegotiationPeer:              CategoryNegotiation,
	ReasonNegotiationOffer:             CategoryNegotiation,
	ReasonNegotiationLocalDescription:  CategoryNegotiation,
	ReasonNegotiationRemoteDescription: CategoryNegotiation,
	ReasonNegotiationCancelled:         CategoryNegotiation,

	ReasonSignalingMalformed: CategoryTransient,
	ReasonCandidateSend:      CategoryTransient,
	ReasonPeerChannelSend:    CategoryTransient,
}

// CategoryOf returns the category for a reason code.
func CategoryOf(reason ReasonCode) Category {
	if c, ok := categories[reason]; ok {
		return c
	}
	return CategoryUnknown
}

// Fatal reports whether an error with this reason ends the current attempt.
func Fatal(reason ReasonCode) bool {
	switch CategoryOf(reason) {
	case CategoryTransient, CategoryUnknown:
		return false
	default:
		return true
	}
}
