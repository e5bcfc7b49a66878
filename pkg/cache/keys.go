package cache

// Key layout of cluster-owned state. All instances share these keys; no
// key embeds an instance identity.
const (
	// SessionPrefix precedes per-document session hashes.
	SessionPrefix = "session:"

	// ContentPrefix precedes per-document content snapshots.
	ContentPrefix = "doc:content:"

	// RateLimitPrefix precedes per-(principal, type) request windows.
	RateLimitPrefix = "rate_limit:"

	// RateLimitBlockPrefix precedes per-(principal, type) block markers.
	RateLimitBlockPrefix = "rate_limit_block:"

	// TopicPrefix precedes per-document pub/sub topics.
	TopicPrefix = "channel:"

	// PendingKey is the FIFO list of jobs awaiting a worker.
	PendingKey = "document-updates"

	// ProcessingKey is the hash of jobs currently held by workers.
	ProcessingKey = "processing-jobs"

	// FailedKey is the dead-letter list of permanently failed jobs.
	FailedKey = "failed-jobs"
)

// SessionKey returns the session hash key for a document.
func SessionKey(documentID string) string {
	return SessionPrefix + documentID
}

// ContentKey returns the content snapshot key for a document.
func ContentKey(documentID string) string {
	return ContentPrefix + documentID
}

// RateLimitKey returns the request-window key for a principal and type.
func RateLimitKey(principalID, messageType string) string {
	return RateLimitPrefix + principalID + ":" + messageType
}

// RateLimitBlockKey returns the block-marker key for a principal and type.
func RateLimitBlockKey(principalID, messageType string) string {
	return RateLimitBlockPrefix + principalID + ":" + messageType
}

// TopicKey returns the pub/sub topic for a document.
func TopicKey(documentID string) string {
	return TopicPrefix + documentID
}
