package acquire

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
	"friendsbar/internal/logging"
	"friendsbar/internal/presence"
)

// DefaultCommunityBase is the community site origin.
const DefaultCommunityBase = "https://steamcommunity.com"

const minPayloadLen = 120

var (
	friendBlockMarker = regexp.MustCompile(`(?i)friend_block_v2|friend_block`)
	profileLink       = regexp.MustCompile(`profiles/(\d{17})`)
	miniProfileLink   = regexp.MustCompile(`miniprofile/(\d+)`)
	whitespace        = regexp.MustCompile(`\s+`)
)

var (
	inGameClasses = []string{"ingame", "in-game", "friendstatus_ingame", "friendstatus_in-game"}
	idleClasses   = []string{"away", "snooze", "idle", "friendstatus_away", "friendstatus_snooze", "friendstatus_idle"}
	onlineClasses = []string{
		"online", "busy", "friendstatus_online", "friendstatus_busy", "friendstatus_lookingtoplay",
		"friendstatus_lookingtotrade", "persona_state_online", "persona_state_busy",
		"persona_state_lookingtoplay", "persona_state_lookingtotrade",
	}
	offlineClasses = []string{"offline", "friendstatus_offline", "persona_state_offline"}
)

// CommunityStrategy scrapes friend blocks from community markup.
type CommunityStrategy struct {
	fetch    TextFetcher
	base     string
	maxPages int
}

// NewCommunityStrategy creates the markup scrape strategy.
func NewCommunityStrategy(fetch TextFetcher, base string, maxPages int) *CommunityStrategy {
	if base == "" {
		base = DefaultCommunityBase
	}
	if maxPages <= 0 {
		maxPages = 8
	}
	return &CommunityStrategy{fetch: fetch, base: strings.TrimRight(base, "/"), maxPages: maxPages}
}

func (s *CommunityStrategy) Name() string { return "community-html" }

func (s *CommunityStrategy) Produce(ctx context.Context, in Input) ([]graph.Value, string, error) {
	var payloads []string
	var failures int
	add := func(u string) {
		body, err := s.fetch.Text(ctx, u)
		if err != nil {
			failures++
			logging.AcquireDebug("community %s: %v", u, err)
			return
		}
		if len(body) >= minPayloadLen {
			payloads = append(payloads, body)
		}
	}

	for _, kind := range []string{"friends", "online", "friendsonline"} {
		add(s.base + "/actions/PlayerList/?type=" + kind)
	}
	if in.Identity.Valid() {
		payloads = append(payloads, s.profilePages(ctx, in.Identity)...)
	}
	add(s.base + "/my/friends/")

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if len(payloads) == 0 && failures > 0 {
		return nil, "", fmt.Errorf("%d community endpoints failed", failures)
	}

	var raws []graph.Value
	for _, html := range payloads {
		raws = append(raws, ParseFriendBlocks(html)...)
	}
	return raws, fmt.Sprintf("payloads:%d blocks:%d", len(payloads), len(raws)), nil
}

// profilePages fetches paginated profile friend pages. For each page the
// first variant that looks like a friends listing wins; a missing page after
// the first ends pagination.
func (s *CommunityStrategy) profilePages(ctx context.Context, id identity.ID) []string {
	var pages []string
	for page := 1; page <= s.maxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		root := fmt.Sprintf("%s/profiles/%s/friends/", s.base, id)
		variants := []string{
			root + "?online=1&p=" + strconv.Itoa(page) + "&l=english",
			root + "?p=" + strconv.Itoa(page) + "&l=english",
			root + "?ajax=1&online=1&p=" + strconv.Itoa(page) + "&l=english",
		}
		found := false
		for _, u := range variants {
			body, err := s.fetch.Text(ctx, u)
			if err != nil || len(body) < minPayloadLen || !friendBlockMarker.MatchString(body) {
				continue
			}
			pages = append(pages, body)
			found = true
			break
		}
		if !found && page > 1 {
			break
		}
	}
	return pages
}

// ParseFriendBlocks extracts online friends from community markup as raw
// records in the shape the normalizer understands.
func ParseFriendBlocks(html string) []graph.Value {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []graph.Value
	doc.Find(".friend_block_v2, .friend_block").Each(func(_ int, block *goquery.Selection) {
		id, ok := readBlockID(block)
		if !ok {
			return
		}

		classes := map[string]bool{}
		collect := func(s *goquery.Selection) {
			for _, tok := range strings.Fields(strings.ToLower(s.AttrOr("class", ""))) {
				classes[tok] = true
			}
		}
		collect(block)
		block.Find("[class]").Each(func(_ int, s *goquery.Selection) { collect(s) })

		state, hasState := blockPersonaState(block)

		statusSrc := block.Find(".friend_block_content").First()
		if statusSrc.Length() == 0 {
			statusSrc = block.Find(".friend_block_status").First()
		}
		if statusSrc.Length() == 0 {
			statusSrc = block
		}
		status := whitespace.ReplaceAllString(strings.ToLower(statusSrc.Text()), " ")

		inGame := anyClass(classes, inGameClasses) ||
			containsAnyText(status, "in-game", "currently playing", "playing")
		idle := (hasState && (state == 3 || state == 4)) || anyClass(classes, idleClasses) ||
			containsAnyText(status, " away", "snooze", "idle")
		onlineSignals := inGame || idle || (hasState && state > 0) || anyClass(classes, onlineClasses)
		onlineText := containsAnyText(status, "online", "busy", "looking to play", "looking to trade")
		offline := (hasState && state == 0) || anyClass(classes, offlineClasses) ||
			strings.Contains(status, "offline")
		if !(onlineSignals || onlineText) || (offline && !onlineSignals) {
			return
		}

		name := ""
		for _, sel := range []string{".friend_block_content", ".friend_block_name", ".persona"} {
			if n := block.Find(sel).First(); n.Length() > 0 {
				name = n.Text()
				break
			}
		}
		name = strings.TrimSpace(name)
		if first, _, ok := strings.Cut(name, "\n"); ok {
			name = strings.TrimSpace(first)
		}
		if name == "" {
			name = presence.DefaultName
		}

		avatar := block.Find("img").First().AttrOr("src", "")

		out = append(out, graph.NewObject(
			"steamid", id.String(),
			"personaname", name,
			"avatar", avatar,
			"in_game", inGame,
			"idle", idle,
			"online", true,
		))
	})
	return out
}

func readBlockID(block *goquery.Selection) (identity.ID, bool) {
	attrs := []string{"data-steamid", "data-miniprofile", "data-accountid"}
	var candidates []string
	for _, a := range attrs {
		candidates = append(candidates, block.AttrOr(a, ""))
	}
	candidates = append(candidates, block.AttrOr("id", ""))
	if nested := block.Find("[data-steamid], [data-miniprofile], [data-accountid]").First(); nested.Length() > 0 {
		for _, a := range attrs {
			candidates = append(candidates, nested.AttrOr(a, ""))
		}
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if id, ok := identity.Normalize(c); ok {
			return id, true
		}
	}

	var found identity.ID
	block.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if m := profileLink.FindStringSubmatch(href); m != nil {
			if id, ok := identity.Normalize(m[1]); ok {
				found = id
				return false
			}
		}
		if m := miniProfileLink.FindStringSubmatch(href); m != nil {
			if id, ok := identity.Normalize(m[1]); ok {
				found = id
				return false
			}
		}
		return true
	})
	return found, found.Valid()
}

func blockPersonaState(block *goquery.Selection) (float64, bool) {
	raw, ok := block.Attr("data-personastate")
	if !ok {
		raw, ok = block.Attr("data-persona-state")
	}
	if !ok {
		node := block.Find("[data-personastate], [data-persona-state]").First()
		if node.Length() > 0 {
			raw, ok = node.Attr("data-personastate")
			if !ok {
				raw, ok = node.Attr("data-persona-state")
			}
		}
	}
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func anyClass(classes map[string]bool, names []string) bool {
	for _, n := range names {
		if classes[n] {
			return true
		}
	}
	return false
}

func containsAnyText(s string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
