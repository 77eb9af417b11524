package browser

import (
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrBlocked is returned when a listing provider served an anti-bot page.
	ErrBlocked = eris.New("page blocked by anti-bot protection")
	// ErrClosed is returned by Visit after the session was closed.
	ErrClosed = eris.New("session closed")
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockAccess     BlockType = "access_denied"
)

// DetectBlock inspects a response for anti-bot interstitials. status and
// header may be zero values when only the rendered document is available.
func DetectBlock(status int, header http.Header, body []byte) (bool, BlockType) {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "hcaptcha") ||
		strings.Contains(lower, "unusual traffic from your computer") {
		return true, BlockCaptcha
	}

	// Akamai-style denial, common on Indian listing portals.
	if len(body) < 4096 && strings.Contains(lower, "access denied") &&
		strings.Contains(lower, "reference #") {
		return true, BlockAccess
	}

	return false, BlockNone
}
