package localization

import (
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"
)

func TestLocalizationService(t *testing.T) {
	for _, tt := range []struct {
		lang string
		want string
	}{
		{lang: "en", want: "Invalid security code"},
		{lang: "de", want: "Ungültiger Sicherheitscode"},
		{lang: "fr", want: "Code de sécurité invalide"},
		{lang: "tlh", want: "Invalid security code"},
	} {
		t.Run(tt.lang, func(t *testing.T) {
			if got := ForLanguage(tt.lang).T("invalid_security_code"); got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGetLocalizerFromAcceptLanguage(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	if got := GetLocalizer(req).T("verify_button"); got != "Prüfen" {
		t.Errorf("wanted German button label, got %q", got)
	}
}

func TestUnknownKeyFallsBack(t *testing.T) {
	if got := ForLanguage("en").T("no_such_key"); got != "no_such_key" {
		t.Errorf("wanted the message id back, got %q", got)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	keysOf := func(name string) []string {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatal(err)
		}

		var msgs map[string]string
		if err := json.Unmarshal(data, &msgs); err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		var keys []string
		for k := range msgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}

	want := keysOf("en.json")

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		t.Fatal(err)
	}

	for _, entry := range entries {
		t.Run(entry.Name(), func(t *testing.T) {
			got := keysOf(entry.Name())
			if len(got) != len(want) {
				t.Fatalf("%s has %d keys, en.json has %d", entry.Name(), len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("key mismatch at %d: %q vs %q", i, got[i], want[i])
				}
			}
		})
	}
}
