package driver

// AbortReason is the closed set of causes a session can end with.
type AbortReason int

const (
	// None means the update was installed.
	None AbortReason = iota
	UserCancelled
	NoUpdateFound
	CheckFailed
	DownloadFailed
	VerificationFailed
	InstallationFailed
	Superseded
	UserDeclined
	UpdateSkipped
	ReadOnlyVolume
)

var reasonNames = map[AbortReason]string{
	None:               "installed",
	UserCancelled:      "user cancelled",
	NoUpdateFound:      "no update found",
	CheckFailed:        "check failed",
	DownloadFailed:     "download failed",
	VerificationFailed: "verification failed",
	InstallationFailed: "installation failed",
	Superseded:         "superseded",
	UserDeclined:       "user declined",
	UpdateSkipped:      "update skipped",
	ReadOnlyVolume:     "read-only volume",
}

func (r AbortReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether r is one of the defined reasons.
func (r AbortReason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

// IsError reports whether r should be surfaced to the user as a failure.
// Cancellation, declined prompts and "no update" are normal outcomes.
func (r AbortReason) IsError() bool {
	switch r {
	case CheckFailed, DownloadFailed, VerificationFailed, InstallationFailed, ReadOnlyVolume:
		return true
	}
	return false
}

// MarshalText renders the reason as a stable snake_case token.
func (r AbortReason) MarshalText() ([]byte, error) {
	return []byte(r.Token()), nil
}

// Token is the snake_case form used in metrics labels and machine output.
func (r AbortReason) Token() string {
	switch r {
	case None:
		return "installed"
	case UserCancelled:
		return "user_cancelled"
	case NoUpdateFound:
		return "no_update_found"
	case CheckFailed:
		return "check_failed"
	case DownloadFailed:
		return "download_failed"
	case VerificationFailed:
		return "verification_failed"
	case InstallationFailed:
		return "installation_failed"
	case Superseded:
		return "superseded"
	case UserDeclined:
		return "user_declined"
	case UpdateSkipped:
		return "update_skipped"
	case ReadOnlyVolume:
		return "read_only_volume"
	}
	return "unknown"
}
