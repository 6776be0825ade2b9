package view

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// Dashboard UI selectors. The log viewer renders one div[role=row] per
// line; search hits are gold-highlighted spans inside those rows.
const (
	searchInputSel = `input[placeholder='Search']`
	nextMatchSel   = `button[aria-label='go to next match']`
	counterSel     = `span.ml-8.font-semibold`
)

// currentMatchJS locates the highlighted match and pulls its row's line
// number and text. Prefers the gold highlight; falls back to any
// highlighted span containing the marker.
const currentMatchJS = `
(async function() {
	const marker = %q;
	const spans = document.querySelectorAll('span[style*="background-color"]');
	let hit = null;
	for (const s of spans) {
		if ((s.textContent || '').indexOf(marker) === -1) continue;
		const style = (s.getAttribute('style') || '').replace(/\s+/g, '');
		if (style.indexOf('background-color:rgb(255,215,0)') !== -1) { hit = s; break; }
		if (!hit) hit = s;
	}
	if (!hit) return { found: false };
	const row = hit.closest('div[role="row"]');
	if (!row) return { found: false };
	const lineEl = row.querySelector('span[aria-label="line number"]');
	let text = '';
	row.querySelectorAll('span.break-all').forEach(el => { text += el.textContent; });
	if (!text) text = row.textContent || '';
	return {
		found: true,
		lineId: lineEl ? lineEl.textContent.trim() : '',
		text: text
	};
})()
`

const counterJS = `
(function() {
	const el = document.querySelector('` + counterSel + `');
	return el ? el.textContent : '';
})()
`

// Config holds the dashboard driver settings.
type Config struct {
	URL           string
	Marker        string // substring a highlighted span must contain to count as a match
	Headless      bool
	UserAgent     string
	SettleDelay   time.Duration // pause after clicks and keystrokes
	PageLoadWait  time.Duration // pause after navigation
	ActionTimeout time.Duration // per-interaction upper bound
}

// Driver walks the dashboard with a headless browser. It is not safe
// for concurrent use: the highlight position is shared page state.
type Driver struct {
	cfg             Config
	browser         context.Context
	cancelBrowser   context.CancelFunc
	cancelAllocator context.CancelFunc
}

// NewDriver starts a browser instance and verifies it responds.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.PageLoadWait <= 0 {
		cfg.PageLoadWait = 5 * time.Second
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	testCtx, cancelTest := context.WithTimeout(browserCtx, cfg.ActionTimeout)
	defer cancelTest()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	log.Info().
		Str("url", cfg.URL).
		Bool("headless", cfg.Headless).
		Msg("Dashboard browser started")

	return &Driver{
		cfg:             cfg,
		browser:         browserCtx,
		cancelBrowser:   cancelBrowser,
		cancelAllocator: cancelAlloc,
	}, nil
}

// Close shuts the browser down.
func (d *Driver) Close() {
	d.cancelBrowser()
	d.cancelAllocator()
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(d.browser, d.cfg.ActionTimeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Reset reloads the dashboard so the highlight state starts clean.
func (d *Driver) Reset(ctx context.Context) error {
	if err := d.run(ctx,
		chromedp.Navigate(d.cfg.URL),
		chromedp.Sleep(d.cfg.PageLoadWait),
	); err != nil {
		return fmt.Errorf("reload dashboard: %w", err)
	}
	return nil
}

// FocusSearch clears the search box and types the query. The viewer
// highlights the first match once results settle.
func (d *Driver) FocusSearch(ctx context.Context, query string) error {
	if err := d.run(ctx,
		chromedp.WaitVisible(searchInputSel, chromedp.ByQuery),
		chromedp.Click(searchInputSel, chromedp.ByQuery),
		chromedp.SetValue(searchInputSel, "", chromedp.ByQuery),
		chromedp.SendKeys(searchInputSel, query, chromedp.ByQuery),
		chromedp.Sleep(d.cfg.SettleDelay),
	); err != nil {
		return fmt.Errorf("focus search: %w", err)
	}
	return nil
}

// CurrentMatch returns the highlighted match's line number and text.
func (d *Driver) CurrentMatch(ctx context.Context) (Match, error) {
	var res struct {
		Found  bool   `json:"found"`
		LineID string `json:"lineId"`
		Text   string `json:"text"`
	}
	js := fmt.Sprintf(currentMatchJS, d.cfg.Marker)
	err := d.run(ctx, chromedp.Evaluate(js, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return Match{}, fmt.Errorf("locate highlighted match: %w", err)
	}
	if !res.Found {
		return Match{}, ErrNoMatch
	}
	return Match{LineID: strings.TrimSpace(res.LineID), Text: res.Text}, nil
}

// MatchProgress reads the "current/total" counter next to the search box.
func (d *Driver) MatchProgress(ctx context.Context) (int, int, error) {
	var raw string
	if err := d.run(ctx, chromedp.Evaluate(counterJS, &raw)); err != nil {
		return 0, 0, fmt.Errorf("read match counter: %w", err)
	}
	current, total, err := parseProgress(raw)
	if err != nil {
		log.Debug().Str("counter", raw).Msg("Match counter not parseable")
		return 0, 0, ErrProgressUnknown
	}
	return current, total, nil
}

// Advance clicks the next-match button. The dashboard wraps the
// highlight back to the top after the last match instead of disabling
// the button, so a non-increasing counter means the end was reached.
func (d *Driver) Advance(ctx context.Context) error {
	before, _, beforeErr := d.MatchProgress(ctx)

	if err := d.run(ctx,
		chromedp.Click(nextMatchSel, chromedp.ByQuery),
		chromedp.Sleep(d.cfg.SettleDelay),
	); err != nil {
		return fmt.Errorf("click next match: %w", err)
	}

	after, _, afterErr := d.MatchProgress(ctx)
	if beforeErr == nil && afterErr == nil && after <= before {
		return ErrNoMoreMatches
	}
	return nil
}

// parseProgress parses the "current/total" counter text.
func parseProgress(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("counter text %q: missing separator", s)
	}
	current, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("counter current: %w", err)
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("counter total: %w", err)
	}
	return current, total, nil
}
