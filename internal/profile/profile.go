// Package profile manages per-user preference records. Each Telegram
// user has one profile: reply language, confirmation mode, media
// quality preferences, and free-form notes the agent accumulates.
package profile

import (
	"strings"
	"time"
)

// Quality is a media quality preference. The empty value means the
// user has not chosen one; the conversation driver surfaces that as
// "not set" so the agent asks instead of assuming.
type Quality string

const (
	QualityUnset Quality = ""
	Quality4K    Quality = "4k"
	Quality1080p Quality = "1080p"
)

// ConfirmationMode controls whether the agent confirms before
// submitting a media request.
type ConfirmationMode string

const (
	ConfirmAlways ConfirmationMode = "always"
	ConfirmNever  ConfirmationMode = "never"
)

// UserProfile is the durable per-user preference record. It is a value
// type: tools produce updated copies and save them explicitly rather
// than mutating shared state in place.
type UserProfile struct {
	UserID    int64     `json:"-"` // stored as the row key, not in the blob
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ReplyLanguage is the human-readable language the agent replies
	// in (e.g. "Dutch"). Seeded from the Telegram locale on first
	// contact, changed later only by explicit user request.
	ReplyLanguage string `json:"reply_language"`

	// ConfirmationMode controls confirm-before-request behavior.
	ConfirmationMode ConfirmationMode `json:"confirmation_mode"`

	// MovieQuality and SeriesQuality are independent; either may be
	// unset, which means the agent must ask before requesting.
	MovieQuality  Quality `json:"movie_quality,omitempty"`
	SeriesQuality Quality `json:"series_quality,omitempty"`

	// Notes are observations the agent has recorded about the user.
	// Append-only in normal operation.
	Notes []string `json:"notes"`

	// Stats counts user activity (requests_made, etc).
	Stats map[string]int `json:"stats"`
}

// WithNote returns a copy of the profile with the note appended. The
// notes slice is copied so the original profile value is untouched.
func (p UserProfile) WithNote(note string) UserProfile {
	notes := make([]string, 0, len(p.Notes)+1)
	notes = append(notes, p.Notes...)
	notes = append(notes, note)
	p.Notes = notes
	return p
}

// WithStat returns a copy of the profile with the named counter
// incremented by delta.
func (p UserProfile) WithStat(name string, delta int) UserProfile {
	stats := make(map[string]int, len(p.Stats)+1)
	for k, v := range p.Stats {
		stats[k] = v
	}
	stats[name] += delta
	p.Stats = stats
	return p
}

// defaultStats returns the declared stat counters for a fresh profile.
func defaultStats() map[string]int {
	return map[string]int{
		"requests_made": 0,
	}
}

// newDefault constructs a fresh profile for userID with all defaults.
func newDefault(userID int64, language string, now time.Time) UserProfile {
	return UserProfile{
		UserID:           userID,
		CreatedAt:        now,
		UpdatedAt:        now,
		ReplyLanguage:    language,
		ConfirmationMode: ConfirmAlways,
		Notes:            []string{},
		Stats:            defaultStats(),
	}
}

// localeLanguages maps chat locale codes to reply language names. The
// table is static; unmapped locales fall back to the configured
// default language.
var localeLanguages = map[string]string{
	"en": "English",
	"nl": "Dutch",
	"fr": "French",
	"de": "German",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
}

// ResolveLanguage maps a locale hint (e.g. "nl", "en-US") to a reply
// language name. Absent or unmapped hints return fallback. Region
// subtags are stripped before lookup.
func ResolveLanguage(locale, fallback string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if lang, ok := localeLanguages[locale]; ok {
		return lang
	}
	return fallback
}
