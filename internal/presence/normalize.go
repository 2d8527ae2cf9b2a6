package presence

import (
	"strings"

	"friendsbar/internal/graph"
	"friendsbar/internal/identity"
)

// Field is an ordered list of path descriptors for one logical field. The
// first path that yields a present value wins.
//
// A path is dotted. The leading segment "$persona" stands for the record's
// nested persona object. A segment ending in "()" calls that method; a plain
// segment whose value is a zero-argument function is called as well.
type Field struct {
	Name  string
	Paths []string
}

// PersonaAliases are the members that may hold a nested persona object.
var PersonaAliases = []string{"persona", "m_persona", "m_user", "m_data"}

var (
	IDField = Field{Name: "id", Paths: []string{
		"steamid", "steamId", "m_steamid", "strSteamID", "m_strSteamID",
		"accountid", "accountId", "m_unAccountID", "steamid64", "m_ulSteamID", "ulSteamID",
		"$persona.steamid", "$persona.steamId", "$persona.m_steamid", "$persona.strSteamID",
		"$persona.m_strSteamID", "$persona.accountid", "$persona.accountId", "$persona.m_unAccountID",
		"SteamID()", "GetAccountID()", "$persona.SteamID()", "$persona.GetAccountID()",
		"m_steamid.ConvertTo64BitString()", "GetSteamID64()", "GetSteamID()",
	}}

	NameField = Field{Name: "name", Paths: []string{
		"personaname", "m_strPlayerName", "strPlayerName", "m_strPersonaName", "strPersonaName", "name",
		"personaName", "GetName()",
		"$persona.personaname", "$persona.personaName", "$persona.m_strPlayerName", "$persona.strPlayerName",
		"$persona.m_strPersonaName", "$persona.strPersonaName", "$persona.GetName()",
	}}

	StateField = Field{Name: "state", Paths: []string{
		"personastate", "m_ePersonaState", "ePersonaState", "nPersonaState", "persona_state",
		"m_nPersonaState", "status",
		"$persona.personastate", "$persona.personaState", "$persona.m_ePersonaState",
		"$persona.ePersonaState", "$persona.nPersonaState", "$persona.persona_state", "$persona.m_nPersonaState",
		"personaState", "GetPersonaState()", "GetOnlineStatus()", "GetOnlineState()",
		"$persona.GetPersonaState()", "$persona.GetOnlineStatus()", "$persona.GetOnlineState()",
		"m_persona_state",
	}}

	StateTextField = Field{Name: "state-text", Paths: []string{
		"persona_state_name", "personaStatus", "m_strStatus", "strStatus", "status_text", "statusText",
		"$persona.persona_state_name", "$persona.personaStatus", "$persona.m_strStatus",
		"$persona.strStatus", "$persona.status_text", "$persona.statusText",
		"GetPersonaStateName()", "GetStatusString()",
		"$persona.GetPersonaStateName()", "$persona.GetStatusString()",
	}}

	InActivityField = Field{Name: "in-activity", Paths: []string{
		"gameid", "gameId", "m_gameid", "game_playing_appid", "m_unGamePlayedAppID",
		"m_gamePlayedAppId", "unGamePlayedAppID", "game_info.gameid", "in_game",
		"$persona.gameid", "$persona.gameId", "$persona.m_gameid", "$persona.game_playing_appid",
		"$persona.m_unGamePlayedAppID", "$persona.m_gamePlayedAppId", "$persona.unGamePlayedAppID",
		"BIsInGame()", "IsInGame()", "$persona.BIsInGame()", "$persona.IsInGame()",
		"m_gameInfo.gameid", "m_gameInfo.m_unAppID",
	}}

	IdleField = Field{Name: "idle", Paths: []string{
		"bIsAway", "m_bIsAway", "bIsIdle", "m_bIsIdle", "bAway", "bIdle", "idle", "is_away", "away",
		"$persona.bIsAway", "$persona.m_bIsAway", "$persona.bIsIdle", "$persona.m_bIsIdle",
		"$persona.bAway", "$persona.bIdle", "$persona.idle", "$persona.is_away", "$persona.away",
		"BIsAway()", "IsAway()", "BIsSnooze()", "IsSnooze()", "BIsIdle()", "IsIdle()",
		"$persona.BIsAway()", "$persona.IsAway()", "$persona.BIsSnooze()", "$persona.IsSnooze()",
		"$persona.BIsIdle()", "$persona.IsIdle()",
	}}

	OnlineField = Field{Name: "online", Paths: []string{
		"bOnline", "m_bOnline", "is_online", "online",
		"$persona.bOnline", "$persona.m_bOnline", "$persona.is_online", "$persona.online",
		"BIsOnline()", "IsOnline()", "$persona.BIsOnline()", "$persona.IsOnline()",
	}}

	AvatarField = Field{Name: "avatar", Paths: []string{
		"avatarmedium", "avatarfull", "avatar", "m_strAvatarURL", "strAvatarURL",
		"$persona.avatarmedium", "$persona.avatarfull", "$persona.avatar",
		"$persona.m_strAvatarURL", "$persona.strAvatarURL", "avatar_url",
	}}

	AvatarHashField = Field{Name: "avatar-hash", Paths: []string{
		"avatarhash", "m_strAvatarHash", "strAvatarHash",
		"$persona.avatarhash", "$persona.m_strAvatarHash", "$persona.strAvatarHash",
	}}

	ActivityField = Field{Name: "activity", Paths: []string{
		"gameextrainfo", "m_strGameExtraInfo", "strGameExtraInfo", "m_strGameName", "strGameName",
		"$persona.gameextrainfo", "$persona.m_strGameExtraInfo", "$persona.strGameExtraInfo",
		"$persona.m_strGameName", "$persona.strGameName", "m_gameInfo.name",
	}}
)

// Lookup returns the first present value for f on raw, or nil.
func (f Field) Lookup(raw graph.Value) graph.Value {
	return f.LookupFunc(raw, func(graph.Value) bool { return true })
}

// LookupFunc is Lookup restricted to values accepted by keep.
func (f Field) LookupFunc(raw graph.Value, keep func(graph.Value) bool) graph.Value {
	persona := personaOf(raw)
	for _, p := range f.Paths {
		root := raw
		if rest, ok := strings.CutPrefix(p, "$persona."); ok {
			if persona == nil {
				continue
			}
			root, p = persona, rest
		}
		if v := resolve(root, p); v != nil && keep(v) {
			return v
		}
	}
	return nil
}

func personaOf(raw graph.Value) graph.Value {
	for _, k := range PersonaAliases {
		if v := raw.Get(k); graph.Present(v) && v.Kind().Container() {
			return v
		}
	}
	return nil
}

// resolve walks a path, calling zero-argument functions it lands on.
func resolve(v graph.Value, path string) graph.Value {
	segs := strings.Split(path, ".")
	cur := v
	for _, seg := range segs {
		if !graph.Present(cur) {
			return nil
		}
		if name, ok := strings.CutSuffix(seg, "()"); ok {
			out, err := cur.Call(name)
			if err != nil {
				return nil
			}
			cur = out
			continue
		}
		next := cur.Get(seg)
		if next != nil && next.Kind() == graph.Func {
			if next.Arity() > 0 {
				return nil
			}
			out, err := cur.Call(seg)
			if err != nil {
				return nil
			}
			next = out
		}
		cur = next
	}
	if !graph.Present(cur) {
		return nil
	}
	return cur
}

// truthy is host truthiness except that the string "0" counts as false,
// because numeric ids and flags often arrive stringified.
func truthy(v graph.Value) bool {
	if v == nil {
		return false
	}
	if v.Kind() == graph.String {
		s := strings.TrimSpace(v.Str())
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	}
	return v.Truthy()
}

var (
	idlePhrases   = []string{"away", "snooze", "idle"}
	onlinePhrases = []string{"online", "away", "snooze", "busy", "looking to play", "looking to trade"}
)

// Normalize converts one raw record. It returns false when the record has
// no resolvable identity or is not online.
func Normalize(raw graph.Value) (Record, bool) {
	if raw == nil {
		return Record{}, false
	}
	// Map entries often arrive as [key, value] pairs.
	if raw.Kind() == graph.Array {
		if v := raw.Get("1"); v != nil && v.Kind().Container() {
			raw = v
		}
	}
	if k := raw.Kind(); k != graph.Object && k != graph.Map && k != graph.Func {
		return Record{}, false
	}

	var id identity.ID
	IDField.LookupFunc(raw, func(v graph.Value) bool {
		parsed, ok := identity.Normalize(v.Str())
		id = parsed
		return ok
	})
	if !id.Valid() {
		return Record{}, false
	}

	state := 0.0
	if v := StateField.Lookup(raw); v != nil {
		if n, ok := v.Num(); ok {
			state = n
		}
	}
	stateText := ""
	if v := StateTextField.Lookup(raw); v != nil {
		stateText = strings.ToLower(v.Str())
	}

	inActivity := truthy(InActivityField.Lookup(raw))
	idle := state == 3 || state == 4 || containsAny(stateText, idlePhrases) || truthy(IdleField.Lookup(raw))
	online := inActivity || idle || state > 0 ||
		containsAny(stateText, onlinePhrases) || truthy(OnlineField.Lookup(raw))
	if !online {
		return Record{}, false
	}

	name := ""
	if v := NameField.Lookup(raw); v != nil {
		name = strings.TrimSpace(v.Str())
	}
	if name == "" {
		name = DefaultName
	}

	var avatarURL, avatarHash string
	if v := AvatarField.LookupFunc(raw, nonEmptyString); v != nil {
		avatarURL = v.Str()
	}
	if v := AvatarHashField.LookupFunc(raw, nonEmptyString); v != nil {
		avatarHash = v.Str()
	}

	activity := ""
	if v := ActivityField.Lookup(raw); v != nil {
		activity = strings.TrimSpace(v.Str())
	}

	return Record{
		ID:         id,
		Name:       name,
		Avatar:     AvatarURL(avatarURL, avatarHash),
		InActivity: inActivity,
		Idle:       idle,
		Activity:   activity,
	}, true
}

// AvatarURL resolves an avatar from an explicit URL or a content hash.
func AvatarURL(rawURL, hash string) string {
	if u := strings.TrimSpace(rawURL); u != "" {
		if strings.HasPrefix(u, "//") {
			return "https:" + u
		}
		return u
	}
	h := strings.ToLower(strings.TrimSpace(hash))
	if len(h) >= 20 && strings.Trim(h, "0") != "" {
		return "https://avatars.cloudflare.steamstatic.com/" + h + "_medium.jpg"
	}
	return DefaultAvatar
}

// NormalizeAll normalizes and merges raw records in discovery order.
func NormalizeAll(raws []graph.Value) []Record {
	s := NewSet()
	for _, raw := range raws {
		if r, ok := Normalize(raw); ok {
			s.Add(r)
		}
	}
	return s.Records()
}

func nonEmptyString(v graph.Value) bool {
	return v.Kind() == graph.String && strings.TrimSpace(v.Str()) != ""
}

func containsAny(s string, phrases []string) bool {
	if s == "" {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
