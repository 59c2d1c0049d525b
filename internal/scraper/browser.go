package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// CaptureToken opens a visible browser on the SmartHub login page and waits
// for the portal to send its first bearer-authorized request. The captured
// value can be configured as SMARTHUB_TOKEN to skip the login flow.
func CaptureToken(ctx context.Context, loginURL string, timeout time.Duration) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var (
		once  sync.Once
		token = make(chan string, 1)
	)
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		if value := authorizationHeader(req.Request.Headers); value != "" {
			once.Do(func() { token <- value })
		}
	})

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(loginURL),
	); err != nil {
		return "", fmt.Errorf("opening login page: %w", err)
	}

	select {
	case value := <-token:
		return value, nil
	case <-browserCtx.Done():
		return "", fmt.Errorf("no authorized request seen before timeout: %w", browserCtx.Err())
	}
}

// authorizationHeader returns a bearer Authorization header value, if present
func authorizationHeader(headers network.Headers) string {
	for name, raw := range headers {
		if !strings.EqualFold(name, "Authorization") {
			continue
		}
		value, ok := raw.(string)
		if ok && strings.HasPrefix(strings.ToLower(value), "bearer ") {
			return value
		}
	}
	return ""
}
