package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeShortIDs(t *testing.T) {
	for n := 1; n <= 10; n++ {
		digits := strings.Repeat("7", n)
		v, _ := strconv.ParseUint(digits, 10, 64)

		id, ok := Normalize(digits)
		require.True(t, ok, digits)
		assert.Equal(t, ID(Base+v), id, digits)
	}
}

func TestNormalizeAccountFive(t *testing.T) {
	id, ok := Normalize("5")
	require.True(t, ok)
	assert.Equal(t, "76561197960265733", id.String())
	assert.Equal(t, uint64(5), id.AccountID())
}

func TestNormalizeLongIDsAreIdentity(t *testing.T) {
	for _, s := range []string{"76561197960265733", "76561198000000001", "12345678901234567"} {
		id, ok := Normalize(s)
		require.True(t, ok)
		assert.Equal(t, s, id.String())
	}
}

func TestNormalizeRejectsOtherLengths(t *testing.T) {
	for _, n := range []int{11, 12, 16, 18, 20} {
		_, ok := Normalize(strings.Repeat("1", n))
		assert.False(t, ok, "length %d", n)
	}
	_, ok := Normalize("no digits")
	assert.False(t, ok)
	_, ok = Normalize("")
	assert.False(t, ok)
}

func TestNormalizeTakesFirstDigitRun(t *testing.T) {
	id, ok := Normalize("friend_76561197960265733_block 42")
	require.True(t, ok)
	assert.Equal(t, ID(76561197960265733), id)
}

func TestNormalizeAny(t *testing.T) {
	tests := []struct {
		in   any
		want ID
		ok   bool
	}{
		{"5", ID(Base + 5), true},
		{json.Number("76561197960265733"), ID(76561197960265733), true},
		{5, ID(Base + 5), true},
		{int64(5), ID(Base + 5), true},
		{uint64(76561197960265733), ID(76561197960265733), true},
		{float64(5), ID(Base + 5), true},
		{float64(5.5), 0, false},
		{-1, 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := NormalizeAny(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}
}

func TestSplitSessionCookie(t *testing.T) {
	id, token := SplitSessionCookie("76561197960265733%7C%7CeyJhbGciOi")
	assert.Equal(t, ID(76561197960265733), id)
	assert.Equal(t, "eyJhbGciOi", token)

	id, token = SplitSessionCookie("garbage")
	assert.False(t, id.Valid())
	assert.Empty(t, token)
}

type fakeSession struct {
	current string
	cookies map[string]string
	globals map[string]string
	err     error
}

func (f *fakeSession) CurrentUser(context.Context) (string, error) { return f.current, f.err }
func (f *fakeSession) Cookie(_ context.Context, name string) (string, error) {
	return f.cookies[name], nil
}
func (f *fakeSession) Global(_ context.Context, path string) (string, error) {
	return f.globals[path], nil
}

func TestResolverOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("current user wins", func(t *testing.T) {
		r := NewResolver(&fakeSession{
			current: "76561197960265740",
			cookies: map[string]string{SessionCookie: "76561197960265733||tok"},
		})
		got := r.Resolve(ctx)
		assert.Equal(t, ID(76561197960265740), got.ID)
		assert.Equal(t, "current-user", got.Source)
		assert.Equal(t, "tok", got.Token)
	})

	t.Run("cookie when host reference fails", func(t *testing.T) {
		r := NewResolver(&fakeSession{
			err:     errors.New("no App"),
			cookies: map[string]string{SessionCookie: "76561197960265733%7C%7Ctok"},
		})
		got := r.Resolve(ctx)
		assert.Equal(t, ID(76561197960265733), got.ID)
		assert.Equal(t, "cookie", got.Source)
	})

	t.Run("globals last", func(t *testing.T) {
		r := NewResolver(&fakeSession{globals: map[string]string{"AccountData.steamid": "76561197960265799"}})
		got := r.Resolve(ctx)
		assert.Equal(t, ID(76561197960265799), got.ID)
		assert.Equal(t, "global:AccountData.steamid", got.Source)
	})

	t.Run("unresolved", func(t *testing.T) {
		got := NewResolver(&fakeSession{current: "1234567890123"}).Resolve(ctx)
		assert.False(t, got.ID.Valid())
		assert.Empty(t, got.Source)
	})
}
