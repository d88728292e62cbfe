package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDetectLocale(t *testing.T) {
	locales := NewLocales([]string{"en", "de", "pt-BR"})
	tests := []struct {
		name    string
		setup   func(r *http.Request)
		locales *Locales
		want    string
	}{
		{
			name: "x-locale overrides accept-language",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "DE")
				r.Header.Set("Accept-Language", "en-US")
			},
			want: "de",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "de-AT,en;q=0.8")
			},
			want: "de",
		},
		{
			name: "regional variant",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "pt-BR")
			},
			want: "pt-BR",
		},
		{
			name: "unsupported language skipped by matcher",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "fr-FR, de;q=0.7")
			},
			want: "de",
		},
		{
			name: "default is first configured",
			want: "en",
		},
		{
			name:    "configured default",
			locales: NewLocales([]string{"nl", "en"}),
			want:    "nl",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			l := locales
			if tc.locales != nil {
				l = tc.locales
			}
			if got := detectLocale(req, l); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewLocalesDropsInvalidCodes(t *testing.T) {
	l := NewLocales([]string{" ", "not a locale!", "fr"})
	if l.Default() != "fr" {
		t.Fatalf("Default() = %q, want fr", l.Default())
	}
	if got := NewLocales(nil).Default(); got != "en" {
		t.Fatalf("empty Default() = %q, want en", got)
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	handler := I18N(NewLocales([]string{"en", "ja"}), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ja-JP,en;q=0.5")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if locale != "ja" || country != "JP" {
		t.Fatalf("locale=%q country=%q, want ja JP", locale, country)
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		resolver CountryLookup
		want     string
	}{
		{
			name: "header precedence",
			setup: func(r *http.Request) {
				r.Header.Set("X-Country-Code", "us")
				r.Header.Set("CF-IPCountry", "id")
			},
			want: "US",
		},
		{
			name: "locale region fallback",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "en-AU")
			},
			want: "AU",
		},
		{
			name: "accept-language region",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-GB,en;q=0.9")
			},
			want: "GB",
		},
		{
			name: "language without region gives nothing",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "de;q=0.8")
			},
			want: "",
		},
		{
			name: "resolver fallback",
			resolver: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					t.Fatalf("unexpected ip: %s", ip)
				}
				return "my", nil
			},
			want: "MY",
		},
		{
			name: "resolver error returns empty",
			resolver: func(ip string) (string, error) {
				return "", assertError("boom")
			},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			if tc.setup != nil {
				tc.setup(req)
			}
			got := ResolveCountry(req, tc.resolver)
			if got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "en" {
		t.Fatalf("LocaleFromContext() default = %q, want %q", got, "en")
	}
	ctx = context.WithValue(ctx, LocaleKey, "de")
	if got := LocaleFromContext(ctx); got != "de" {
		t.Fatalf("LocaleFromContext() with value = %q, want %q", got, "de")
	}
}
