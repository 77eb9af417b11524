package browser

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare 403", 403, http.Header{"Cf-Ray": {"abc"}}, "", BlockCloudflare},
		{"cloudflare server 503", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"cloudflare interstitial", 200, nil, "<p>Checking your browser before accessing</p>", BlockCloudflare},
		{"recaptcha widget", 200, nil, `<div class="g-recaptcha"></div>`, BlockCaptcha},
		{"google sorry page", 0, nil, "Our systems have detected unusual traffic from your computer network", BlockCaptcha},
		{"akamai denial", 403, nil, "<h1>Access Denied</h1> Reference #18.abc", BlockAccess},
		{"plain listing", 200, nil, `<div class="resultbox">Sharma Dental</div>`, BlockNone},
		{"403 without markers", 403, http.Header{}, "forbidden", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, bt := DetectBlock(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, bt)
		})
	}
}
