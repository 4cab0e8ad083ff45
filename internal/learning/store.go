package learning

import "context"

// Store persists learning events, the global difficulty/tip ledgers, and
// cached user profiles.
type Store interface {
	// InsertSessionEvent appends a session event. Returns false when the
	// (userId, sessionId) pair already exists.
	InsertSessionEvent(ctx context.Context, ev SessionEvent) (bool, error)
	// InsertEasePocketEvent appends a drill event. Returns false when the
	// (userId, eventId) pair already exists.
	InsertEasePocketEvent(ctx context.Context, ev EasePocketEvent) (bool, error)

	// SessionEventsByUser returns the user's sessions in createdAt order.
	SessionEventsByUser(ctx context.Context, userID string) ([]SessionEvent, error)
	// EasePocketEventsByUser returns the user's drills in createdAt order.
	EasePocketEventsByUser(ctx context.Context, userID string) ([]EasePocketEvent, error)

	// BumpWordAttempt increments the global attempt counters for a word.
	BumpWordAttempt(ctx context.Context, word string, failed, succeeded bool) error
	// BumpTipShown increments the global shown counter for a tip key, and the
	// improved counter when the tipped word recovered.
	BumpTipShown(ctx context.Context, tipKey string, improved bool) error

	// TopWordDifficulties lists words by failureRate desc, attempts desc.
	TopWordDifficulties(ctx context.Context, limit int) ([]WordDifficulty, error)
	// ChallengeWords lists words with at least minAttempts attempts, by
	// failureRate desc then attempts desc.
	ChallengeWords(ctx context.Context, minAttempts, limit int) ([]WordDifficulty, error)
	// TopTipEffectiveness lists tips by successScore desc, shownCount desc.
	TopTipEffectiveness(ctx context.Context, limit int) ([]TipEffectiveness, error)
	// BestTipForBucket returns the most effective tip whose key ends in the
	// given length bucket and has been shown at least minShown times.
	BestTipForBucket(ctx context.Context, bucket string, minShown int) (TipEffectiveness, bool, error)

	SaveProfile(ctx context.Context, p Profile) error
	ProfileByUser(ctx context.Context, userID string) (Profile, bool, error)

	// Mode names the active backend ("postgres" or "memory").
	Mode() string
	Close() error
}
