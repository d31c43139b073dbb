package host

// Info keys read from the packaged manifest.
const (
	KeyIdentifier     = "identifier"
	KeyName           = "name"
	KeyVersion        = "version"
	KeyDisplayVersion = "display_version"
	KeyPublicKey      = "public_key"
	KeyPublicKeyFile  = "public_key_file"
	KeyFeedURL        = "feed_url"
)

// Preference keys written by update sessions.
const (
	KeyAutomaticallyUpdate = "automatically_update"
	KeySkippedVersion      = "skipped_version"
	KeyLastCheckTime       = "last_check_time"
)
