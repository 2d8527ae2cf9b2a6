package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"friendsbar/internal/logging"
)

// Storage keys.
const (
	KeyWebAPIKey      = "friendsbar-steam-web-api-key"
	KeyXOffset        = "friendsbar-x-offset"
	KeyYOffset        = "friendsbar-y-offset"
	KeyEnabled        = "friendsbar-enabled"
	KeyHideInStore    = "friendsbar-hide-in-store"
	KeyHideOnGamePage = "friendsbar-hide-on-game-page"
	KeyTapAction      = "friendsbar-tap-action"
	KeyCountOnly      = "friendsbar-count-only-mode"
)

// Offset bounds in pixels.
const (
	MinXOffset = -350
	MaxXOffset = 350
	MinYOffset = -25
	MaxYOffset = 500
)

// TapAction selects what tapping a friend does.
type TapAction string

const (
	TapChat        TapAction = "chat"
	TapToggleCount TapAction = "toggle-count"
)

// ParseTapAction accepts the two known actions; anything else is chat.
func ParseTapAction(s string) TapAction {
	if TapAction(strings.TrimSpace(s)) == TapToggleCount {
		return TapToggleCount
	}
	return TapChat
}

// Snapshot is every setting at one point in time.
type Snapshot struct {
	WebAPIKey      string    `json:"webApiKey"`
	XOffset        int       `json:"xOffset"`
	YOffset        int       `json:"yOffset"`
	Enabled        bool      `json:"enabled"`
	HideInStore    bool      `json:"hideInStore"`
	HideOnGamePage bool      `json:"hideOnGamePage"`
	TapAction      TapAction `json:"tapAction"`
	CountOnly      bool      `json:"countOnly"`
}

// Defaults is the compiled-in Snapshot.
var Defaults = Snapshot{Enabled: true, TapAction: TapChat}

// Settings wraps a Store with typed accessors. Reads fall back to defaults
// when storage fails; writes equal to the default remove the key.
type Settings struct {
	store Store
}

// New wraps store.
func New(store Store) *Settings {
	return &Settings{store: store}
}

func (s *Settings) raw(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		logging.SettingsWarn("read %s failed, using default: %v", key, err)
		return "", false
	}
	return v, ok
}

func (s *Settings) readBool(ctx context.Context, key string, def bool) bool {
	v, ok := s.raw(ctx, key)
	if !ok {
		return def
	}
	return v == "1"
}

func (s *Settings) writeBool(ctx context.Context, key string, v, def bool) error {
	if v == def {
		return s.store.Remove(ctx, key)
	}
	if v {
		return s.store.Set(ctx, key, "1")
	}
	return s.store.Set(ctx, key, "0")
}

func (s *Settings) readOffset(ctx context.Context, key string, lo, hi int) int {
	v, ok := s.raw(ctx, key)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return ClampOffset(f, lo, hi)
}

func (s *Settings) writeOffset(ctx context.Context, key string, v float64, lo, hi int) (int, error) {
	n := ClampOffset(v, lo, hi)
	if n == 0 {
		return 0, s.store.Remove(ctx, key)
	}
	return n, s.store.Set(ctx, key, strconv.Itoa(n))
}

// ClampOffset rounds v and clamps it into [lo, hi]. NaN becomes 0.
func ClampOffset(v float64, lo, hi int) int {
	if math.IsNaN(v) {
		return 0
	}
	n := math.Round(v)
	if n < float64(lo) {
		return lo
	}
	if n > float64(hi) {
		return hi
	}
	return int(n)
}

// WebAPIKey returns the trimmed key, "" when unset.
func (s *Settings) WebAPIKey(ctx context.Context) string {
	v, _ := s.raw(ctx, KeyWebAPIKey)
	return strings.TrimSpace(v)
}

// SetWebAPIKey stores key; an empty key removes it.
func (s *Settings) SetWebAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.store.Remove(ctx, KeyWebAPIKey)
	}
	return s.store.Set(ctx, KeyWebAPIKey, key)
}

func (s *Settings) XOffset(ctx context.Context) int {
	return s.readOffset(ctx, KeyXOffset, MinXOffset, MaxXOffset)
}

func (s *Settings) SetXOffset(ctx context.Context, v float64) (int, error) {
	return s.writeOffset(ctx, KeyXOffset, v, MinXOffset, MaxXOffset)
}

func (s *Settings) YOffset(ctx context.Context) int {
	return s.readOffset(ctx, KeyYOffset, MinYOffset, MaxYOffset)
}

func (s *Settings) SetYOffset(ctx context.Context, v float64) (int, error) {
	return s.writeOffset(ctx, KeyYOffset, v, MinYOffset, MaxYOffset)
}

func (s *Settings) Enabled(ctx context.Context) bool {
	return s.readBool(ctx, KeyEnabled, Defaults.Enabled)
}

func (s *Settings) SetEnabled(ctx context.Context, v bool) error {
	return s.writeBool(ctx, KeyEnabled, v, Defaults.Enabled)
}

func (s *Settings) HideInStore(ctx context.Context) bool {
	return s.readBool(ctx, KeyHideInStore, Defaults.HideInStore)
}

func (s *Settings) SetHideInStore(ctx context.Context, v bool) error {
	return s.writeBool(ctx, KeyHideInStore, v, Defaults.HideInStore)
}

func (s *Settings) HideOnGamePage(ctx context.Context) bool {
	return s.readBool(ctx, KeyHideOnGamePage, Defaults.HideOnGamePage)
}

func (s *Settings) SetHideOnGamePage(ctx context.Context, v bool) error {
	return s.writeBool(ctx, KeyHideOnGamePage, v, Defaults.HideOnGamePage)
}

func (s *Settings) TapAction(ctx context.Context) TapAction {
	v, _ := s.raw(ctx, KeyTapAction)
	return ParseTapAction(v)
}

// SetTapAction stores the action. Choosing chat also leaves count-only mode.
func (s *Settings) SetTapAction(ctx context.Context, a TapAction) error {
	if ParseTapAction(string(a)) == TapChat {
		if err := s.store.Remove(ctx, KeyTapAction); err != nil {
			return err
		}
		return s.SetCountOnly(ctx, false)
	}
	return s.store.Set(ctx, KeyTapAction, string(TapToggleCount))
}

func (s *Settings) CountOnly(ctx context.Context) bool {
	return s.readBool(ctx, KeyCountOnly, Defaults.CountOnly)
}

func (s *Settings) SetCountOnly(ctx context.Context, v bool) error {
	return s.writeBool(ctx, KeyCountOnly, v, Defaults.CountOnly)
}

// ToggleCountOnly flips count-only mode and returns the new value.
func (s *Settings) ToggleCountOnly(ctx context.Context) (bool, error) {
	next := !s.CountOnly(ctx)
	return next, s.SetCountOnly(ctx, next)
}

// Snapshot reads every setting.
func (s *Settings) Snapshot(ctx context.Context) Snapshot {
	return Snapshot{
		WebAPIKey:      s.WebAPIKey(ctx),
		XOffset:        s.XOffset(ctx),
		YOffset:        s.YOffset(ctx),
		Enabled:        s.Enabled(ctx),
		HideInStore:    s.HideInStore(ctx),
		HideOnGamePage: s.HideOnGamePage(ctx),
		TapAction:      s.TapAction(ctx),
		CountOnly:      s.CountOnly(ctx),
	}
}

// Apply writes a single setting from its storage key and textual value, as
// used by the CLI and the status surface.
func (s *Settings) Apply(ctx context.Context, key, value string) error {
	switch key {
	case KeyWebAPIKey:
		return s.SetWebAPIKey(ctx, value)
	case KeyXOffset, KeyYOffset:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%s: not a number: %q", key, value)
		}
		if key == KeyXOffset {
			_, err = s.SetXOffset(ctx, f)
		} else {
			_, err = s.SetYOffset(ctx, f)
		}
		return err
	case KeyEnabled, KeyHideInStore, KeyHideOnGamePage, KeyCountOnly:
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case KeyEnabled:
			return s.SetEnabled(ctx, b)
		case KeyHideInStore:
			return s.SetHideInStore(ctx, b)
		case KeyHideOnGamePage:
			return s.SetHideOnGamePage(ctx, b)
		default:
			return s.SetCountOnly(ctx, b)
		}
	case KeyTapAction:
		a := TapAction(strings.TrimSpace(value))
		if a != TapChat && a != TapToggleCount {
			return fmt.Errorf("%s: unknown action %q", key, value)
		}
		return s.SetTapAction(ctx, a)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}

// Keys lists every storage key.
func Keys() []string {
	return []string{KeyWebAPIKey, KeyXOffset, KeyYOffset, KeyEnabled, KeyHideInStore, KeyHideOnGamePage, KeyTapAction, KeyCountOnly}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}
