package profile

import "testing"

func TestResolveLanguage(t *testing.T) {
	cases := []struct {
		locale string
		want   string
	}{
		{"nl", "Dutch"},
		{"fr", "French"},
		{"en", "English"},
		{"en-US", "English"},
		{"NL", "Dutch"},
		{"pt_BR", "Portuguese"},
		{"", "English"},
		{"zz", "English"},
		{"  nl ", "Dutch"},
	}

	for _, tc := range cases {
		if got := ResolveLanguage(tc.locale, "English"); got != tc.want {
			t.Errorf("ResolveLanguage(%q) = %q, want %q", tc.locale, got, tc.want)
		}
	}
}

func TestResolveLanguage_FallbackIsConfigurable(t *testing.T) {
	if got := ResolveLanguage("xx", "Esperanto"); got != "Esperanto" {
		t.Errorf("unmapped locale = %q, want the provided fallback", got)
	}
}

func TestWithNote_DoesNotMutateOriginal(t *testing.T) {
	p := UserProfile{Notes: []string{"likes sci-fi"}}

	q := p.WithNote("prefers subtitles")

	if len(p.Notes) != 1 {
		t.Errorf("original notes grew: %v", p.Notes)
	}
	if len(q.Notes) != 2 || q.Notes[1] != "prefers subtitles" {
		t.Errorf("copy notes = %v, want the appended note", q.Notes)
	}
}

func TestWithStat_DoesNotMutateOriginal(t *testing.T) {
	p := UserProfile{Stats: map[string]int{"requests_made": 2}}

	q := p.WithStat("requests_made", 1)

	if p.Stats["requests_made"] != 2 {
		t.Errorf("original stat changed: %d", p.Stats["requests_made"])
	}
	if q.Stats["requests_made"] != 3 {
		t.Errorf("copy stat = %d, want 3", q.Stats["requests_made"])
	}
}

func TestWithStat_NilStats(t *testing.T) {
	var p UserProfile

	q := p.WithStat("requests_made", 1)

	if q.Stats["requests_made"] != 1 {
		t.Errorf("stat = %d, want 1", q.Stats["requests_made"])
	}
}
