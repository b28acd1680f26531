package automation

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/resilience"
)

// ErrBlocked marks a page that served a bot challenge or no usable content.
var ErrBlocked = eris.New("automation: page blocked or empty")

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
	"are you a robot",
	"verify you are human",
	"captcha",
}

// isBlocked reports whether page text looks like a challenge or an empty
// shell rather than a product page.
func isBlocked(text string) bool {
	content := strings.TrimSpace(text)
	if len(content) < 100 {
		return true
	}
	if len(content) >= 1500 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// blockedError wraps ErrBlocked as transient so the attempt is retried.
func blockedError(locator string) error {
	return resilience.NewTransientError(eris.Wrapf(ErrBlocked, "locator %s", locator), 0)
}
