package stepup

// Purpose names the sensitive operation an elevation attempt is for. The
// purpose determines the required factor sequence and is stamped into the
// resulting ticket so it cannot authorize a different operation.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeReplaceDevice Purpose = "replace_device"
	PurposeChangePin     Purpose = "change_pin"
	PurposeRevealSecret  Purpose = "reveal_secret"
	PurposeDeleteAccount Purpose = "delete_account"
)

// knowledgeDirected reports whether the server-directed knowledge challenge
// applies to this purpose. Login is low-sensitivity and skips it; every
// other purpose includes it when the server offers candidates.
func (p Purpose) knowledgeDirected() bool {
	return p != PurposeLogin
}

func (p Purpose) valid() bool {
	switch p {
	case PurposeLogin, PurposeReplaceDevice, PurposeChangePin, PurposeRevealSecret, PurposeDeleteAccount:
		return true
	}
	return false
}
