package certificate

// MapProviderStatus translates the provider's integer status vocabulary into
// local statuses. It is total: every integer maps to exactly one status. Used
// during async submission and during reconciliation; nothing else interprets
// provider codes.
func MapProviderStatus(code int) Status {
	switch {
	case code == 0:
		return StatusCompleted
	case code == 121 || code == 122:
		return StatusProcessing
	case code == 123 || code == 124:
		return StatusCompleted
	case code < 0:
		return StatusFailed
	default:
		return StatusPending
	}
}
