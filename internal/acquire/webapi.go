package acquire

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
	"friendsbar/internal/logging"
)

// DefaultAPIBase is the Steam Web API origin.
const DefaultAPIBase = "https://api.steampowered.com"

const summaryChunk = 100

// twoStep fetches a friend-id list, then batch-fetches summaries.
type twoStep struct {
	fetch JSONFetcher
}

// friendIDs returns the ids of the first URL whose payload lists any.
func (t twoStep) friendIDs(ctx context.Context, urls []string) ([]string, error) {
	var lastErr error
	for _, u := range urls {
		payload, err := t.fetch.JSON(ctx, u)
		if err != nil {
			lastErr = err
			logging.AcquireDebug("friend list %s: %v", redact(u), err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if ids := parseFriendLinks(payload); len(ids) > 0 {
			return ids, nil
		}
		lastErr = nil
	}
	return nil, lastErr
}

func (t twoStep) summaries(ctx context.Context, ids []string, urlsFor func(joined string) []string) ([]graph.Value, error) {
	var players []graph.Value
	var lastErr error
	for start := 0; start < len(ids); start += summaryChunk {
		end := min(start+summaryChunk, len(ids))
		joined := url.QueryEscape(strings.Join(ids[start:end], ","))
		for _, u := range urlsFor(joined) {
			payload, err := t.fetch.JSON(ctx, u)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					return players, ctx.Err()
				}
				continue
			}
			if batch := parseSummaries(payload); len(batch) > 0 {
				players = append(players, batch...)
				break
			}
		}
	}
	if len(players) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return players, nil
}

// parseFriendLinks reads friend ids from friendslist.friends, response.friends
// or friends, deduplicated in order.
func parseFriendLinks(payload graph.Value) []string {
	var list graph.Value
	for _, p := range []string{"friendslist.friends", "response.friends", "friends"} {
		if v := graph.Path(payload, p); v != nil && v.Kind() == graph.Array {
			list = v
			break
		}
	}
	if list == nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, entry := range list.Items(0) {
		sid := graph.Path(entry, "steamid")
		if sid == nil {
			continue
		}
		id := strings.TrimSpace(sid.Str())
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func parseSummaries(payload graph.Value) []graph.Value {
	for _, p := range []string{"response.players", "players"} {
		if v := graph.Path(payload, p); v != nil && v.Kind() == graph.Array {
			return v.Items(0)
		}
	}
	return nil
}

// WebAPIKeyStrategy uses the user's own Web API key.
type WebAPIKeyStrategy struct {
	twoStep
	base string
}

// NewWebAPIKeyStrategy creates the key-authenticated strategy. base defaults
// to DefaultAPIBase.
func NewWebAPIKeyStrategy(fetch JSONFetcher, base string) *WebAPIKeyStrategy {
	if base == "" {
		base = DefaultAPIBase
	}
	return &WebAPIKeyStrategy{twoStep: twoStep{fetch: fetch}, base: strings.TrimRight(base, "/")}
}

func (s *WebAPIKeyStrategy) Name() string { return "steam-web-api-key" }

func (s *WebAPIKeyStrategy) Produce(ctx context.Context, in Input) ([]graph.Value, string, error) {
	if in.APIKey == "" {
		return nil, "", ErrNoKey
	}
	if !in.Identity.Valid() {
		return nil, "", ErrNoIdentity
	}
	key := url.QueryEscape(in.APIKey)
	sid := in.Identity.String()

	ids, err := s.friendIDs(ctx, []string{
		fmt.Sprintf("%s/ISteamUser/GetFriendList/v1/?key=%s&steamid=%s&relationship=friend", s.base, key, sid),
		fmt.Sprintf("%s/ISteamUser/GetFriendList/v0001/?key=%s&steamid=%s&relationship=friend", s.base, key, sid),
	})
	if err != nil {
		return nil, "", fmt.Errorf("friend list: %w", err)
	}
	if len(ids) == 0 {
		return nil, "friends:0", nil
	}

	players, err := s.summaries(ctx, ids, func(joined string) []string {
		return []string{
			fmt.Sprintf("%s/ISteamUser/GetPlayerSummaries/v2/?key=%s&steamids=%s", s.base, key, joined),
			fmt.Sprintf("%s/ISteamUser/GetPlayerSummaries/v0002/?key=%s&steamids=%s", s.base, key, joined),
		}
	})
	if err != nil {
		return nil, "", fmt.Errorf("summaries: %w", err)
	}
	return players, fmt.Sprintf("friends:%d players:%d", len(ids), len(players)), nil
}

// SessionTokenStrategy uses the access token carried by the session cookie.
// Unlike the key strategy it can list friends without an explicit identity.
type SessionTokenStrategy struct {
	twoStep
	base string
}

// NewSessionTokenStrategy creates the session-token strategy.
func NewSessionTokenStrategy(fetch JSONFetcher, base string) *SessionTokenStrategy {
	if base == "" {
		base = DefaultAPIBase
	}
	return &SessionTokenStrategy{twoStep: twoStep{fetch: fetch}, base: strings.TrimRight(base, "/")}
}

func (s *SessionTokenStrategy) Name() string { return "oauth-api" }

func (s *SessionTokenStrategy) Produce(ctx context.Context, in Input) ([]graph.Value, string, error) {
	if !in.Identity.Valid() {
		return nil, "", ErrNoIdentity
	}
	ids, err := s.friendIDs(ctx, s.friendListURLs(in.Identity, in.Token))
	if err != nil {
		return nil, "", fmt.Errorf("friend list: %w", err)
	}
	if len(ids) == 0 {
		return nil, "friends:0", nil
	}

	players, err := s.summaries(ctx, ids, func(joined string) []string {
		var urls []string
		if in.Token != "" {
			tok := url.QueryEscape(in.Token)
			urls = append(urls,
				fmt.Sprintf("%s/ISteamUserOAuth/GetUserSummaries/v1/?steamids=%s&access_token=%s", s.base, joined, tok),
				fmt.Sprintf("%s/ISteamUserOAuth/GetUserSummaries/v0002/?steamids=%s&access_token=%s", s.base, joined, tok),
			)
		}
		return append(urls,
			fmt.Sprintf("%s/ISteamUserOAuth/GetUserSummaries/v1/?steamids=%s", s.base, joined),
			fmt.Sprintf("%s/ISteamUserOAuth/GetUserSummaries/v0002/?steamids=%s", s.base, joined),
		)
	})
	if err != nil {
		return nil, "", fmt.Errorf("summaries: %w", err)
	}
	return players, fmt.Sprintf("friends:%d players:%d token:%t", len(ids), len(players), in.Token != ""), nil
}

func (s *SessionTokenStrategy) friendListURLs(id identity.ID, token string) []string {
	sid := id.String()
	var urls []string
	if token != "" {
		tok := url.QueryEscape(token)
		urls = append(urls,
			fmt.Sprintf("%s/ISteamUserOAuth/GetFriendList/v1/?steamid=%s&relationship=friend&access_token=%s", s.base, sid, tok),
			fmt.Sprintf("%s/ISteamUserOAuth/GetFriendList/v0001/?steamid=%s&relationship=friend&access_token=%s", s.base, sid, tok),
			fmt.Sprintf("%s/ISteamUserOAuth/GetFriendList/v1/?relationship=friend&access_token=%s", s.base, tok),
			fmt.Sprintf("%s/ISteamUserOAuth/GetFriendList/v0001/?relationship=friend&access_token=%s", s.base, tok),
		)
	}
	return append(urls,
		fmt.Sprintf("%s/ISteamUserOAuth/GetFriendList/v1/?steamid=%s&relationship=friend", s.base, sid),
		fmt.Sprintf("%s/ISteamUserOAuth/GetFriendList/v0001/?steamid=%s&relationship=friend", s.base, sid),
	)
}
