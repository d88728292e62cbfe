package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// Locales matches request languages against the locales the payment page is
// rendered in. The first configured locale is the default.
type Locales struct {
	codes   []string
	matcher language.Matcher
}

// NewLocales keeps the codes that parse as BCP 47 tags. With none left it
// falls back to English.
func NewLocales(codes []string) *Locales {
	var tags []language.Tag
	var kept []string
	for _, code := range codes {
		code = strings.TrimSpace(code)
		tag, err := language.Parse(code)
		if code == "" || err != nil {
			continue
		}
		tags = append(tags, tag)
		kept = append(kept, code)
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
		kept = []string{"en"}
	}
	return &Locales{codes: kept, matcher: language.NewMatcher(tags)}
}

func (l *Locales) Default() string { return l.codes[0] }

// Match picks the best locale for an Accept-Language header, honouring
// q-values. It returns "" for an empty or malformed header.
func (l *Locales) Match(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, _ := l.matcher.Match(tags...)
	return l.codes[idx]
}

// Normalize maps a single locale onto the closest configured one.
func (l *Locales) Normalize(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return l.Default()
	}
	_, idx, _ := l.matcher.Match(tag)
	return l.codes[idx]
}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// I18N stores the caller's locale and country on the request context.
func I18N(locales *Locales, lookup CountryLookup) func(http.Handler) http.Handler {
	if locales == nil {
		locales = NewLocales(nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), LocaleKey, detectLocale(r, locales))
			if country := ResolveCountry(r, lookup); country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, locales *Locales) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return locales.Normalize(v)
	}
	if v := locales.Match(r.Header.Get("Accept-Language")); v != "" {
		return v
	}
	return locales.Default()
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
// CDN headers win, then an explicit region in the locale headers, then GeoIP.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := localeRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// localeRegion returns the region subtag of the first locale that names one
// explicitly, e.g. "GB" for "en-GB".
func localeRegion(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		token := strings.TrimSpace(strings.Split(part, ";")[0])
		if token == "" {
			continue
		}
		tag, err := language.Parse(token)
		if err != nil {
			continue
		}
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}
