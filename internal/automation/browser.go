package automation

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/schema"
)

// BrowserConfig configures the shared Chrome process.
type BrowserConfig struct {
	// ControlURL connects to an already running Chrome. When empty, a
	// browser is launched from Bin, or a downloaded one when Bin is empty.
	ControlURL        string
	Bin               string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	SettleTime        time.Duration
}

// Browser opens one incognito context per session on a lazily started
// Chrome. Sessions share the process but no cookies or storage.
type Browser struct {
	cfg BrowserConfig
	llm *PageExtractor

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewBrowser returns a Browser opener. Chrome starts on the first Open.
func NewBrowser(cfg BrowserConfig, llm *PageExtractor) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return &Browser{cfg: cfg, llm: llm}
}

func (b *Browser) start() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(b.cfg.Headless)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "automation: launch chrome")
		}
		b.launcher = l
		controlURL = u
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		return nil, eris.Wrap(err, "automation: connect to chrome")
	}
	zap.L().Info("automation: browser connected", zap.Bool("launched", b.launcher != nil))
	b.browser = br
	return br, nil
}

// Open creates an incognito context and a blank page for one run.
func (b *Browser) Open(_ context.Context) (Session, error) {
	br, err := b.start()
	if err != nil {
		return nil, err
	}
	incognito, err := br.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "automation: incognito context")
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, eris.Wrap(err, "automation: create page")
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			zap.L().Debug("automation: set user agent failed", zap.Error(err))
		}
	}
	return &browserSession{b: b, incognito: incognito, page: page}, nil
}

// Shutdown closes Chrome and removes a launched browser's profile.
func (b *Browser) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	b.browser, b.launcher = nil, nil
	return eris.Wrap(err, "automation: close browser")
}

type browserSession struct {
	b         *Browser
	incognito *rod.Browser
	page      *rod.Page
	locator   string
}

func (s *browserSession) Navigate(ctx context.Context, locator string) error {
	s.locator = ""
	p := s.page.Context(ctx).Timeout(s.b.cfg.NavigationTimeout)
	if err := p.Navigate(locator); err != nil {
		return eris.Wrapf(err, "automation: navigate %s", locator)
	}
	if err := p.WaitLoad(); err != nil {
		zap.L().Debug("automation: wait load failed, continuing", zap.String("locator", locator), zap.Error(err))
	}
	if s.b.cfg.SettleTime > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.b.cfg.SettleTime):
		}
	}
	s.locator = locator
	return nil
}

// Act presses Escape, which closes most cookie banners and modals. The
// instruction text is only logged; free-text actions need a planner this
// driver does not have.
func (s *browserSession) Act(ctx context.Context, instruction string) error {
	if s.locator == "" {
		return ErrNotNavigated
	}
	zap.L().Debug("automation: act", zap.String("instruction", instruction))
	return s.page.Context(ctx).KeyActions().Press(input.Escape).Do()
}

func (s *browserSession) Extract(ctx context.Context, instruction string, sch *schema.Schema) ([]map[string]any, error) {
	if s.locator == "" {
		return nil, ErrNotNavigated
	}
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return nil, eris.Wrap(err, "automation: read page html")
	}
	text, err := visibleText(s.locator, html)
	if err != nil {
		return nil, err
	}
	if isBlocked(text.Text) {
		return nil, blockedError(s.locator)
	}
	return s.b.llm.Extract(ctx, instruction, sch, text)
}

func (s *browserSession) Close() error {
	err := s.page.Close()
	if cerr := s.incognito.Close(); err == nil {
		err = cerr
	}
	return eris.Wrap(err, "automation: close session")
}
