package prep

import (
	"net/http"
	"testing"
)

func TestIsQuirky(t *testing.T) {
	cases := map[string]bool{
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0": true,
		"FIREFOX": true,
		"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0": false,
		"curl/8.4.0": false,
		"":           false,
	}
	for ua, want := range cases {
		if got := isQuirky(ua); got != want {
			t.Errorf("isQuirky(%q) = %v, want %v", ua, got, want)
		}
	}
}

func TestRandomBoundary(t *testing.T) {
	a := randomBoundary()
	b := randomBoundary()
	if len(a) != 20 {
		t.Errorf("boundary length %d, want 20", len(a))
	}
	if a == b {
		t.Error("boundaries must be random")
	}
}

func TestAddVaryDeduplicates(t *testing.T) {
	header := http.Header{}
	addVary(header, acceptEventsHeader)
	addVary(header, acceptEventsHeader)
	addVary(header, lastEventIDHeader)
	values := header.Values("Vary")
	if len(values) != 2 || values[0] != acceptEventsHeader || values[1] != lastEventIDHeader {
		t.Errorf("unexpected Vary values: %v", values)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ContentTypes != "message/rfc822" {
		t.Errorf("unexpected content types: %q", cfg.ContentTypes)
	}
	if cfg.DurationSeconds != 3600 || cfg.MaxDurationSeconds != 7200 {
		t.Errorf("unexpected durations: %d %d", cfg.DurationSeconds, cfg.MaxDurationSeconds)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NOTIFICATIONS_CONTENT_TYPES", "application/ld+json")
	t.Setenv("NOTIFICATIONS_DURATION", "100")
	t.Setenv("NOTIFICATIONS_DURATION_MAX", "200")

	cfg := ConfigFromEnv()
	if cfg.ContentTypes != "application/ld+json" {
		t.Errorf("unexpected content types: %q", cfg.ContentTypes)
	}
	if cfg.DurationSeconds != 100 || cfg.MaxDurationSeconds != 200 {
		t.Errorf("unexpected durations: %d %d", cfg.DurationSeconds, cfg.MaxDurationSeconds)
	}
}

func TestDefaultOfferFragment(t *testing.T) {
	got := defaultOfferFragment("message/rfc822, application/ld+json")
	want := `accept=("message/rfc822" "application/ld+json")`
	if got != want {
		t.Errorf("defaultOfferFragment = %q, want %q", got, want)
	}
}
