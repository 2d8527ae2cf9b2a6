package host

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"friendsbar/internal/identity"
	"friendsbar/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var (
	//go:embed js/fetch.js
	fetchJS string
	//go:embed js/global.js
	globalJS string
	//go:embed js/currentuser.js
	currentUserJS string
	//go:embed js/routes.js
	routesJS string
	//go:embed js/chat.js
	chatJS string
)

// cookieOrigins are asked for the session cookie, in order.
var cookieOrigins = []string{
	"https://steamcommunity.com",
	"https://store.steampowered.com",
}

// CurrentUser reads App.m_CurrentUser's id from the shared context.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return "", err
	}
	var out string
	if err := evalJSON(ctx, page, currentUserJS, &out); err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	return out, nil
}

// Global reads a dotted global path from the shared context.
func (c *Client) Global(ctx context.Context, path string) (string, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return "", err
	}
	var out string
	if err := evalJSON(ctx, page, globalJS, &out, path); err != nil {
		return "", fmt.Errorf("global %s: %w", path, err)
	}
	return out, nil
}

// Cookie returns the raw value of the named host cookie, or "".
func (c *Client) Cookie(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, origin := range cookieOrigins {
		cookies, err := c.Cookies(ctx, origin)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, ck := range cookies {
			if ck.Name == name && ck.Value != "" {
				return ck.Value, nil
			}
		}
	}
	if len(errs) == len(cookieOrigins) {
		return "", errors.Join(errs...)
	}
	return "", nil
}

// Cookies returns the host's cookies for rawURL.
func (c *Client) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return nil, err
	}
	res, err := proto.NetworkGetCookies{Urls: []string{rawURL}}.Call(page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return toHTTPCookies(res.Cookies), nil
}

func toHTTPCookies(in []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, ck := range in {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		}
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// HostFetch performs fetch() inside the shared context with the host's
// credentials. It is the fallback for requests the direct client cannot make.
func (c *Client) HostFetch(ctx context.Context, rawURL string) (int, string, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return 0, "", err
	}
	var res struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	if err := evalJSON(ctx, page, fetchJS, &res, rawURL); err != nil {
		return 0, "", fmt.Errorf("host fetch: %w", err)
	}
	return res.Status, res.Body, nil
}

// Routes collects navigable locations: every target URL plus the router
// locations known to the surface and shared contexts.
func (c *Client) Routes(ctx context.Context) ([]string, error) {
	recs, err := c.pageList(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, r := range recs {
		add(r.meta.URL)
	}
	for _, get := range []func(context.Context) (*rod.Page, error){c.surfacePage, c.sharedPage} {
		page, err := get(ctx)
		if err != nil {
			continue
		}
		var found []string
		if err := evalJSON(ctx, page, routesJS, &found); err != nil {
			logging.HostDebug("route read failed: %v", err)
			continue
		}
		for _, s := range found {
			add(s)
		}
	}
	return out, nil
}

// ChatResult names the mechanism that opened a chat.
type ChatResult struct {
	Via   string `json:"via"`
	Error string `json:"error,omitempty"`
}

// OpenChat opens the chat with id: the friends chat dialog first, then the
// overlay dialog, then generic navigation.
func (c *Client) OpenChat(ctx context.Context, id identity.ID) (string, error) {
	page, err := c.sharedPage(ctx)
	if err != nil {
		return "", err
	}
	var res ChatResult
	if err := evalJSON(ctx, page, chatJS, &res, id.String(), id.AccountID()); err != nil {
		return "", fmt.Errorf("open chat: %w", err)
	}
	if res.Via == "" {
		return "", fmt.Errorf("open chat: %s", strings.TrimSpace(res.Error))
	}
	return res.Via, nil
}
