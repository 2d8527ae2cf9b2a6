// Package identity normalizes Steam account identities and resolves the
// signed-in user from ambient host session state.
package identity

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Base is the offset between a 32-bit account id and a 64-bit Steam id.
const Base uint64 = 76561197960265728

// SessionCookie carries "<steamid>||<token>" once URL-decoded.
const SessionCookie = "steamLoginSecure"

// ID is a canonical 64-bit Steam id. The zero value means unresolved.
type ID uint64

func (id ID) String() string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether id holds a resolved identity.
func (id ID) Valid() bool { return id != 0 }

// AccountID returns the 32-bit account id, or 0 when id is not a 64-bit id.
func (id ID) AccountID() uint64 {
	if uint64(id) < Base {
		return 0
	}
	return uint64(id) - Base
}

var digitRun = regexp.MustCompile(`\d+`)

// Normalize extracts the first digit run from s. Seventeen digits are taken as
// already canonical, ten or fewer are treated as an account id and offset by
// Base. Anything else fails closed.
func Normalize(s string) (ID, bool) {
	run := digitRun.FindString(s)
	if run == "" {
		return 0, false
	}
	switch {
	case len(run) == 17:
		v, err := strconv.ParseUint(run, 10, 64)
		if err != nil {
			return 0, false
		}
		return ID(v), true
	case len(run) <= 10:
		v, err := strconv.ParseUint(run, 10, 64)
		if err != nil {
			return 0, false
		}
		return ID(Base + v), true
	default:
		return 0, false
	}
}

// NormalizeAny accepts the loosely typed values found in decoded JSON and host
// objects: strings, json.Number, integers and integral floats.
func NormalizeAny(v any) (ID, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case ID:
		return t, t.Valid()
	case string:
		return Normalize(t)
	case json.Number:
		return Normalize(t.String())
	case int:
		if t < 0 {
			return 0, false
		}
		return Normalize(strconv.FormatUint(uint64(t), 10))
	case int64:
		if t < 0 {
			return 0, false
		}
		return Normalize(strconv.FormatInt(t, 10))
	case uint32:
		return Normalize(strconv.FormatUint(uint64(t), 10))
	case uint64:
		return Normalize(strconv.FormatUint(t, 10))
	case float64:
		// Values above 2^53 have already lost precision; refuse them.
		if t < 0 || t != math.Trunc(t) || t > 1<<53 {
			return 0, false
		}
		return Normalize(strconv.FormatFloat(t, 'f', 0, 64))
	default:
		return 0, false
	}
}

// SplitSessionCookie decodes a steamLoginSecure value into its identity and
// access token parts. Either may be empty.
func SplitSessionCookie(raw string) (ID, string) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	left, right, found := strings.Cut(decoded, "||")
	id, _ := Normalize(left)
	if !found {
		return id, ""
	}
	return id, strings.TrimSpace(right)
}
