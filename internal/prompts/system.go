// Package prompts assembles the system prompt for the conversation
// driver: a static persona plus a per-turn fragment rendered from the
// user's profile.
package prompts

import (
	"fmt"
	"strings"

	"github.com/MaartenKnaepen/home-agent/internal/profile"
)

// baseSystemTemplate provides core behavioral guidance for the media
// assistant, including tool usage rules.
const baseSystemTemplate = `You are a helpful home media assistant.
You help the user find, request, and track movies and TV series. Always be concise and friendly.

## Tools
- search_media: find a title's catalog ID before requesting it.
- request_media: submit a download request by ID. Movies and series have separate quality preferences.
- request_status: check on a previously submitted request.
- set_movie_quality / set_series_quality: remember the user's preferred quality once they state it.
- set_reply_language: switch your reply language when the user asks.
- set_confirmation_mode: remember whether the user wants confirmation prompts.
- update_user_note: record things you learn about the user's tastes.

## Rules
- If the relevant quality preference is not set, ask which quality the user wants before requesting. Never assume one.
- When confirmation mode is 'always', confirm title and quality before calling request_media. When 'never', request immediately.
- Reply in the user's reply language.
- Keep responses short for actions: the result, not a ceremony.`

// BaseSystemPrompt returns the static portion of the system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// ProfileContext renders the per-user fragment appended to the system
// prompt. Unset quality preferences are rendered as "not set" on
// purpose: the absence is the signal that the agent must ask.
func ProfileContext(p profile.UserProfile) string {
	var sb strings.Builder

	if p.Name != "" {
		fmt.Fprintf(&sb, "The user's name is %s.\n", p.Name)
	} else {
		sb.WriteString("The user has not set a name.\n")
	}

	fmt.Fprintf(&sb, "Reply language: %s.\n", p.ReplyLanguage)
	fmt.Fprintf(&sb, "Confirmation mode: %s.\n", p.ConfirmationMode)
	fmt.Fprintf(&sb, "Movie quality preference: %s.\n", qualityLabel(p.MovieQuality))
	fmt.Fprintf(&sb, "Series quality preference: %s.\n", qualityLabel(p.SeriesQuality))

	if len(p.Notes) > 0 {
		fmt.Fprintf(&sb, "Notes about this user: %s.\n", strings.Join(p.Notes, "; "))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func qualityLabel(q profile.Quality) string {
	if q == profile.QualityUnset {
		return "not set (ask before requesting)"
	}
	return string(q)
}
