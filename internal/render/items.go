// Package render turns the sorted presence list into keyed nodes and
// reconciles them against what is on screen, animating enters, leaves and
// position changes.
package render

import (
	"fmt"
	"strings"

	"friendsbar/internal/identity"
	"friendsbar/internal/presence"
)

// MaxVisible is the number of friends shown before the overflow node.
const MaxVisible = 10

// Fixed keys.
const (
	KeyOverflow    = "overflow"
	KeyCountToggle = "count-toggle"
)

// Kind distinguishes node types.
type Kind string

const (
	KindFriend   Kind = "friend"
	KindOverflow Kind = "overflow"
	KindCount    Kind = "count"
)

// Item is the description of one rendered node. Key is unique within a render.
type Item struct {
	Key      string      `json:"key"`
	Kind     Kind        `json:"kind"`
	Friend   identity.ID `json:"friend,omitempty"`
	Title    string      `json:"title"`
	Avatar   string      `json:"avatar,omitempty"`
	Alt      string      `json:"alt,omitempty"`
	Activity string      `json:"activity,omitempty"`
	Text     string      `json:"text,omitempty"`
}

// FriendKey is the stable key for a friend's node.
func FriendKey(id identity.ID) string { return "friend:" + id.String() }

// FriendFromKey returns the identity encoded in a friend key.
func FriendFromKey(key string) (identity.ID, bool) {
	rest, ok := strings.CutPrefix(key, "friend:")
	if !ok {
		return 0, false
	}
	return identity.Normalize(rest)
}

// Title describes a friend for the node's tooltip.
func Title(r presence.Record) string {
	status := "online"
	if r.InActivity {
		status = "in game"
	}
	if r.Idle {
		status += " (idle)"
	}
	if r.Activity != "" {
		return fmt.Sprintf("%s - %s - %s", r.Name, status, r.Activity)
	}
	return fmt.Sprintf("%s - %s", r.Name, status)
}

// ActivityClass selects the activity indicator variant.
func ActivityClass(r presence.Record) string {
	base := "online"
	if r.InActivity {
		base = "ingame"
	}
	if r.Idle {
		return base + "-idle"
	}
	return base
}

// Build produces the items for a sorted presence list. In count-only mode
// the whole list collapses into a single counter.
func Build(records []presence.Record, countOnly bool) []Item {
	if len(records) == 0 {
		return nil
	}
	if countOnly {
		n := len(records)
		return []Item{{
			Key:   KeyCountToggle,
			Kind:  KindCount,
			Text:  fmt.Sprint(n),
			Title: fmt.Sprintf("%d online friends (tap to toggle icon/count view)", n),
		}}
	}

	visible := records
	if len(visible) > MaxVisible {
		visible = visible[:MaxVisible]
	}
	items := make([]Item, 0, len(visible)+1)
	for _, r := range visible {
		items = append(items, Item{
			Key:      FriendKey(r.ID),
			Kind:     KindFriend,
			Friend:   r.ID,
			Title:    Title(r),
			Avatar:   r.Avatar,
			Alt:      r.Name,
			Activity: ActivityClass(r),
		})
	}
	if extra := len(records) - len(visible); extra > 0 {
		items = append(items, Item{
			Key:   KeyOverflow,
			Kind:  KindOverflow,
			Text:  fmt.Sprintf("+%d", extra),
			Title: fmt.Sprintf("%d more online", extra),
		})
	}
	return items
}

// Displayed is the number of friends shown individually.
func Displayed(total int) int { return min(total, MaxVisible) }
