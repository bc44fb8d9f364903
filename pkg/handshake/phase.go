package handshake

// Phase is the handshake state. Transitions are strictly forward; a failure
// at any step discards the whole handshake state and requires a fresh start
// because nonces are single-use.
type Phase uint8

const (
	// PhaseIdle - no handshake traffic has been exchanged.
	PhaseIdle Phase = iota

	// PhaseInfoRetrieved - the TDI characteristic has been read and parsed.
	PhaseInfoRetrieved

	// PhaseNonceExchanged - RandA was sent and RandT received.
	PhaseNonceExchanged

	// PhaseChannelOpen - the signed channel-open was acknowledged.
	PhaseChannelOpen

	// PhaseAuthenticated - the session is ready for signed commands.
	PhaseAuthenticated

	// PhaseFailed - terminal failure state, reachable from any other phase.
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseInfoRetrieved:
		return "INFO_RETRIEVED"
	case PhaseNonceExchanged:
		return "NONCE_EXCHANGED"
	case PhaseChannelOpen:
		return "CHANNEL_OPEN"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
