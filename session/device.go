package session

import "strings"

const (
	KindDesktop = "desktop"
	KindMobile  = "mobile"
	KindTablet  = "tablet"
	KindBot     = "bot"
	KindUnknown = "unknown"

	unknownName = "Unknown"
)

type uaRule struct {
	token string
	name  string
}

// Order matters: Edge and Opera also advertise Chrome, Chrome also
// advertises Safari.
var browserRules = []uaRule{
	{"edg/", "Edge"},
	{"edge/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser/", "Samsung Internet"},
	{"firefox/", "Firefox"},
	{"fxios/", "Firefox"},
	{"crios/", "Chrome"},
	{"chrome/", "Chrome"},
	{"chromium/", "Chromium"},
	{"safari/", "Safari"},
	{"trident/", "Internet Explorer"},
	{"msie ", "Internet Explorer"},
	{"curl/", "curl"},
}

var osRules = []uaRule{
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"android", "Android"},
	{"cros", "ChromeOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
}

var botTokens = []string{"bot", "crawler", "spider", "slurp", "curl/", "wget/"}

// ParseDevice extracts browser, OS and device kind from a user agent.
// Anything it cannot recognise is reported as unknown.
func ParseDevice(userAgent string) Device {
	raw := strings.TrimSpace(userAgent)
	d := Device{Browser: unknownName, OS: unknownName, Kind: KindUnknown, Raw: raw}
	if raw == "" {
		return d
	}

	ua := strings.ToLower(raw)
	d.Browser = match(ua, browserRules)
	d.OS = match(ua, osRules)

	switch {
	case containsAny(ua, botTokens):
		d.Kind = KindBot
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") ||
		(strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")):
		d.Kind = KindTablet
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod"):
		d.Kind = KindMobile
	case d.OS == "Windows" || d.OS == "macOS" || d.OS == "Linux" || d.OS == "ChromeOS":
		d.Kind = KindDesktop
	}
	return d
}

func match(ua string, rules []uaRule) string {
	for _, r := range rules {
		if strings.Contains(ua, r.token) {
			return r.name
		}
	}
	return unknownName
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
