package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func init() {
	Reload()
}

func Get(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetOr(key, defaultVal string) string {
	if v := Get(key); v != "" {
		return v
	}
	return defaultVal
}

func GetBool(key, defaultVal string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		v = defaultVal
	}
	return v == "1" || v == "true" || v == "yes"
}

var (
	DatamuleAPIKey string

	// SEC requires a User-Agent identifying the requester for EDGAR calls.
	SECUserAgent string

	DataDir string

	TraceEnabled bool
	Debug        bool

	// Matching tolerance for exercise-event rollups.
	ToleranceShares  = 5.0
	TolerancePercent = 0.005

	// Filing cache entries older than this are refetched.
	CacheMaxAgeHours = 24 * 7
)

// Reload reads .env from the working directory and derives every
// setting from the environment. Settings must be assigned here, not in
// their var initializers: initializers run before the .env load, so a
// value supplied only via .env would never be seen. Real environment
// variables take precedence over .env entries.
func Reload() {
	godotenv.Load(".env")

	DatamuleAPIKey = Get("DATAMULE_API_KEY")
	SECUserAgent = GetOr("SEC_USER_AGENT", "form4recon/1.0 (research tool)")
	DataDir = GetOr("FORM4RECON_DATA_DIR", "data")
	TraceEnabled = GetBool("FORM4RECON_TRACE", "false")
	Debug = GetBool("FORM4RECON_DEBUG", "false")
}
