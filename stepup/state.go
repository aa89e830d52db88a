package stepup

// State is the orchestrator's position in the factor sequence for one
// elevation attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingIdentity
	StateOtpPending
	StateOtpVerified
	StatePinOrBiometricPending
	StateKnowledgeDirected
	StateElevated
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateOtpPending:
		return "otp_pending"
	case StateOtpVerified:
		return "otp_verified"
	case StatePinOrBiometricPending:
		return "pin_or_biometric_pending"
	case StateKnowledgeDirected:
		return "knowledge_directed"
	case StateElevated:
		return "elevated"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// terminal reports whether the attempt can make no further progress.
func (s State) terminal() bool {
	return s == StateElevated || s == StateCanceled
}

// FailureReason is the caller-presentable reason carried by every Failed
// transition. The orchestrator never swallows a verification failure.
type FailureReason string

const (
	ReasonInvalidIdentityFormat FailureReason = "invalid_identity_format"
	ReasonOtpInvalidOrExpired   FailureReason = "otp_invalid_or_expired"
	ReasonPinInvalid            FailureReason = "pin_invalid"
	ReasonPinLockout            FailureReason = "pin_lockout"
	ReasonBiometricRejected     FailureReason = "biometric_rejected"
	ReasonKnowledgeRejected     FailureReason = "knowledge_rejected"
	ReasonBackgroundTimeout     FailureReason = "background_timeout"
)
