package message

import "time"

// RetentionWindow is how long a persisted message survives, measured from
// its timestamp at load time.
const RetentionWindow = 24 * time.Hour

// FilterExpired drops messages older than the retention window. If nothing
// survives the result is the single default welcome message, so a wiped log
// is indistinguishable from a fresh install.
func FilterExpired(msgs []Message, now time.Time, retention time.Duration) []Message {
	var kept []Message
	for _, msg := range msgs {
		if now.Sub(msg.Timestamp) < retention {
			kept = append(kept, msg)
		}
	}
	if len(kept) == 0 {
		return []Message{Seed(now)}
	}
	return kept
}
