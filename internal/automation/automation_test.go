package automation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/extract"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/pkg/anthropic"
	"github.com/sells-group/product-scout/pkg/firecrawl"
	"github.com/sells-group/product-scout/pkg/jina"
)

var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func TestParseRecords(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      int
		malformed bool
	}{
		{"wrapped", `{"records":[{"a":1},{"b":2}]}`, 2, false},
		{"bare array", `[{"a":1}]`, 1, false},
		{"empty", ``, 0, false},
		{"null", `null`, 0, false},
		{"null records", `{"records":null}`, 0, false},
		{"missing records", `{"other":1}`, 0, false},
		{"records not array", `{"records":{"a":1}}`, 0, true},
		{"item not object", `{"records":[1,2]}`, 0, true},
		{"null item", `[null]`, 0, true},
		{"prose", `sorry, I cannot`, 0, true},
		{"broken", `{"records":[`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRecords([]byte(tt.raw))
			if tt.malformed {
				require.Error(t, err)
				assert.ErrorIs(t, err, extract.ErrMalformedData)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestVisibleText(t *testing.T) {
	html := `<html><head><title> Widget Pro | Shop </title><style>.x{}</style></head>
<body><script>var a=1;</script><h1>Widget   Pro</h1><p>Price: $19.99</p><noscript>enable js</noscript></body></html>`
	got, err := visibleText("https://shop.example.com/w", html)
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro | Shop", got.Title)
	assert.Equal(t, "Widget Pro Price: $19.99", got.Text)
	assert.Equal(t, "https://shop.example.com/w", got.URL)
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, isBlocked("tiny"))
	assert.True(t, isBlocked("Just a moment... "+strings.Repeat("x", 200)))
	assert.False(t, isBlocked("Widget Pro, in stock, $19.99. "+strings.Repeat("details ", 40)))
	assert.False(t, isBlocked("captcha mentioned in a long review "+strings.Repeat("text ", 400)))

	err := blockedError("https://a.com")
	assert.ErrorIs(t, err, ErrBlocked)
	assert.True(t, resilience.IsTransient(err))
}

func TestFirecrawlSession(t *testing.T) {
	fc := new(mockFirecrawl)
	sch := schema.Default()
	fc.On("Scrape", mock.Anything, mock.MatchedBy(func(req firecrawl.ScrapeRequest) bool {
		return req.URL == "https://shop.example.com/p/1" &&
			len(req.Actions) == 2 &&
			req.JSONOptions != nil && req.JSONOptions.Prompt == "get products" &&
			req.WaitFor == 1000
	})).Return(&firecrawl.ScrapeResponse{
		Success: true,
		Data: firecrawl.PageData{
			JSON:     json.RawMessage(`{"records":[{"product_name":"Widget","price":"$5","url":"https://shop.example.com/p/1"}]}`),
			Metadata: firecrawl.PageMetadata{StatusCode: 200},
		},
	}, nil)

	opener := NewFirecrawl(fc, nil, noRetry, 1000)
	sess, err := opener.Open(context.Background())
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck

	_, err = sess.Extract(context.Background(), "x", sch)
	assert.ErrorIs(t, err, ErrNotNavigated)

	require.NoError(t, sess.Navigate(context.Background(), "https://shop.example.com/p/1"))
	require.NoError(t, sess.Act(context.Background(), "close popups"))
	recs, err := sess.Extract(context.Background(), "get products", sch)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Widget", recs[0]["product_name"])
	fc.AssertExpectations(t)
}

func TestFirecrawlSession_ActClicksPopupSelectors(t *testing.T) {
	fc := new(mockFirecrawl)
	fc.On("Scrape", mock.Anything, mock.MatchedBy(func(req firecrawl.ScrapeRequest) bool {
		return assert.ObjectsAreEqual([]firecrawl.Action{
			firecrawl.Press("Escape"),
			firecrawl.Click("#onetrust-accept-btn-handler"),
			firecrawl.Click(".newsletter-modal .close"),
			firecrawl.Wait(500),
		}, req.Actions)
	})).Return(&firecrawl.ScrapeResponse{
		Success: true,
		Data: firecrawl.PageData{
			JSON:     json.RawMessage(`{"records":[]}`),
			Metadata: firecrawl.PageMetadata{StatusCode: 200},
		},
	}, nil).Once()

	opener := NewFirecrawl(fc, nil, noRetry, 0, "#onetrust-accept-btn-handler", ".newsletter-modal .close")
	sess, err := opener.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, sess.Navigate(context.Background(), "https://shop.example.com/p/1"))
	require.NoError(t, sess.Act(context.Background(), "close popups"))
	_, err = sess.Extract(context.Background(), "get products", schema.Default())
	require.NoError(t, err)
	fc.AssertExpectations(t)
}

func TestFirecrawlSession_InvalidLocator(t *testing.T) {
	sess, _ := NewFirecrawl(new(mockFirecrawl), nil, noRetry, 0).Open(context.Background())
	assert.Error(t, sess.Navigate(context.Background(), "ftp://nope"))
}

func TestFirecrawlSession_PageErrorStatusIsTransient(t *testing.T) {
	fc := new(mockFirecrawl)
	fc.On("Scrape", mock.Anything, mock.Anything).Return(&firecrawl.ScrapeResponse{
		Success: true,
		Data:    firecrawl.PageData{Metadata: firecrawl.PageMetadata{StatusCode: 503}},
	}, nil)

	sess, _ := NewFirecrawl(fc, nil, noRetry, 0).Open(context.Background())
	require.NoError(t, sess.Navigate(context.Background(), "https://a.example.com"))
	_, err := sess.Extract(context.Background(), "x", schema.Default())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestReaderSession(t *testing.T) {
	jc := new(mockJina)
	ai := new(mockAnthropic)
	page := "# Widget Pro\n\nPrice $19.99, in stock. " + strings.Repeat("Specs and reviews. ", 20)

	jc.On("Read", mock.Anything, "https://shop.example.com/w").
		Return(&jina.ReadResponse{Code: 200, Data: jina.ReadData{Title: "Widget Pro", Content: page}}, nil)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 && strings.Contains(req.System[0].Text, `"records"`) &&
			strings.Contains(req.Messages[0].Content, "Page title: Widget Pro") &&
			strings.HasPrefix(req.Messages[0].Content, "find widgets")
	})).Return(textResponse("```json\n{\"records\":[{\"product_name\":\"Widget Pro\"}]}\n```"), nil)

	llm := NewPageExtractor(ai, resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()), noRetry)
	sess, err := NewReader(jc, llm, nil).Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, sess.Navigate(context.Background(), "https://shop.example.com/w"))
	require.NoError(t, sess.Act(context.Background(), "ignored"))
	recs, err := sess.Extract(context.Background(), "find widgets", schema.Default())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Widget Pro", recs[0]["product_name"])
	jc.AssertExpectations(t)
	ai.AssertExpectations(t)
}

func TestReaderSession_Blocked(t *testing.T) {
	jc := new(mockJina)
	jc.On("Read", mock.Anything, mock.Anything).
		Return(&jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "Checking your browser..."}}, nil)

	sess, _ := NewReader(jc, nil, nil).Open(context.Background())
	err := sess.Navigate(context.Background(), "https://shop.example.com/w")
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = sess.Extract(context.Background(), "x", schema.Default())
	assert.ErrorIs(t, err, ErrNotNavigated)
}

func TestPageExtractor_TruncatesAndPropagatesErrors(t *testing.T) {
	ai := new(mockAnthropic)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return !strings.Contains(req.Messages[0].Content, "TAIL") && req.Model == "m" && req.MaxTokens == 100
	})).Return(nil, errors.New("boom"))

	llm := NewPageExtractor(ai, nil, noRetry, WithModel("m"), WithMaxChars(50), WithMaxTokens(100))
	_, err := llm.Extract(context.Background(), "i", schema.Default(), PageText{Text: strings.Repeat("a", 60) + "TAIL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm extraction")
	ai.AssertExpectations(t)
}

func TestBrowserShutdown_NotStarted(t *testing.T) {
	b := NewBrowser(BrowserConfig{}, nil)
	assert.NoError(t, b.Shutdown())
	assert.Equal(t, 45*time.Second, b.cfg.NavigationTimeout)
}
