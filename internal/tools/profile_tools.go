package tools

import (
	"context"
	"fmt"

	"github.com/MaartenKnaepen/home-agent/internal/profile"
)

// registerProfileTools wires the tools that read and mutate the user's
// profile. Each handler replaces the session's profile value and saves
// it immediately: tool effects must survive a later failure in the
// same turn.
func (r *Registry) registerProfileTools() {
	qualityParam := map[string]any{
		"type":        "string",
		"enum":        []string{"4k", "1080p"},
		"description": "Preferred quality, either '4k' or '1080p'",
	}

	r.Register(&Tool{
		Name: "set_movie_quality",
		Description: "Store the user's preferred movie download quality. " +
			"Call this when the user specifies their preferred quality for movie downloads. " +
			"Once set, use this quality for all future movie requests without asking again.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"quality": qualityParam,
			},
			"required": []string{"quality"},
		},
		Handler: r.handleSetMovieQuality,
	})

	r.Register(&Tool{
		Name: "set_series_quality",
		Description: "Store the user's preferred TV series download quality. " +
			"Call this when the user specifies their preferred quality for series downloads. " +
			"Once set, use this quality for all future series requests without asking again.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"quality": qualityParam,
			},
			"required": []string{"quality"},
		},
		Handler: r.handleSetSeriesQuality,
	})

	r.Register(&Tool{
		Name: "set_reply_language",
		Description: "Update the language the agent uses to reply to this user. " +
			"Call this when the user asks to switch languages, e.g. 'from now on talk to me in Dutch'. " +
			"Pass a human-readable language name ('Dutch', 'French'), normalizing codes first ('nl' means Dutch).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Human-readable language name to use for replies",
				},
			},
			"required": []string{"language"},
		},
		Handler: r.handleSetReplyLanguage,
	})

	r.Register(&Tool{
		Name: "set_confirmation_mode",
		Description: "Toggle whether the agent confirms before requesting media. " +
			"'always' = confirm before every request (default). 'never' = request immediately without asking.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{"always", "never"},
					"description": "Confirmation mode",
				},
			},
			"required": []string{"mode"},
		},
		Handler: r.handleSetConfirmationMode,
	})

	r.Register(&Tool{
		Name: "update_user_note",
		Description: "Add an observation about the user to their profile. " +
			"Call this when you learn something meaningful about the user's preferences, " +
			"habits, or personality that would help you serve them better in future conversations.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note": map[string]any{
					"type":        "string",
					"description": "Free-form note about the user's preferences or behavior",
				},
			},
			"required": []string{"note"},
		},
		Handler: r.handleUpdateUserNote,
	})
}

func parseQuality(args map[string]any) (profile.Quality, error) {
	raw, err := stringArg(args, "quality")
	if err != nil {
		return profile.QualityUnset, err
	}
	switch profile.Quality(raw) {
	case profile.Quality4K, profile.Quality1080p:
		return profile.Quality(raw), nil
	default:
		return profile.QualityUnset, fmt.Errorf("quality must be '4k' or '1080p', got %q", raw)
	}
}

// saveProfile persists the updated profile and rebinds it into the
// session's working state.
func (r *Registry) saveProfile(ctx context.Context, sess *Session, p profile.UserProfile) error {
	if err := sess.Profiles.Save(ctx, p); err != nil {
		return err
	}
	sess.Profile = p
	return nil
}

func (r *Registry) handleSetMovieQuality(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	quality, err := parseQuality(args)
	if err != nil {
		return "", err
	}

	p := sess.Profile
	p.MovieQuality = quality
	if err := r.saveProfile(ctx, sess, p); err != nil {
		return "", err
	}

	r.logger.Info("set movie quality", "user_id", p.UserID, "quality", quality)
	return fmt.Sprintf("Got it! I'll request movies in %s from now on.", quality), nil
}

func (r *Registry) handleSetSeriesQuality(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	quality, err := parseQuality(args)
	if err != nil {
		return "", err
	}

	p := sess.Profile
	p.SeriesQuality = quality
	if err := r.saveProfile(ctx, sess, p); err != nil {
		return "", err
	}

	r.logger.Info("set series quality", "user_id", p.UserID, "quality", quality)
	return fmt.Sprintf("Got it! I'll request series in %s from now on.", quality), nil
}

func (r *Registry) handleSetReplyLanguage(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	language, err := stringArg(args, "language")
	if err != nil {
		return "", err
	}

	p := sess.Profile
	p.ReplyLanguage = language
	if err := r.saveProfile(ctx, sess, p); err != nil {
		return "", err
	}

	r.logger.Info("set reply language", "user_id", p.UserID, "language", language)
	return fmt.Sprintf("Understood! I'll reply in %s from now on.", language), nil
}

func (r *Registry) handleSetConfirmationMode(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	raw, err := stringArg(args, "mode")
	if err != nil {
		return "", err
	}
	mode := profile.ConfirmationMode(raw)
	if mode != profile.ConfirmAlways && mode != profile.ConfirmNever {
		return "", fmt.Errorf("mode must be 'always' or 'never', got %q", raw)
	}

	p := sess.Profile
	p.ConfirmationMode = mode
	if err := r.saveProfile(ctx, sess, p); err != nil {
		return "", err
	}

	r.logger.Info("set confirmation mode", "user_id", p.UserID, "mode", mode)
	if mode == profile.ConfirmNever {
		return "Got it! I'll request media immediately without asking for confirmation.", nil
	}
	return "Got it! I'll always confirm before requesting media.", nil
}

func (r *Registry) handleUpdateUserNote(ctx context.Context, sess *Session, args map[string]any) (string, error) {
	note, err := stringArg(args, "note")
	if err != nil {
		return "", err
	}

	p := sess.Profile.WithNote(note)
	if err := r.saveProfile(ctx, sess, p); err != nil {
		return "", err
	}

	r.logger.Info("added profile note", "user_id", p.UserID)
	return fmt.Sprintf("Noted: %s", note), nil
}
