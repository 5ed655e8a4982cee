package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/feedbackd/ctxstore"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/value"
)

func rules(kv ...any) *proplist.PropList {
	pl := proplist.New()
	for i := 0; i < len(kv); i += 2 {
		pl.Set(kv[i].(string), value.FromAny(kv[i+1]))
	}
	return pl
}

func TestCatalogMergeOnIdenticalRules(t *testing.T) {
	c := NewCatalog()
	c.Add(New("tone", rules("mode", "loud"), rules("audio.volume", 50)))
	c.Add(New("tone", rules("mode", "loud"), rules("led.pattern", "pulse")))

	group := c.Group("tone")
	require.Len(t, group, 1, "identical rule sets merge into one stored event")

	v, ok := group[0].Properties.Get("audio.volume")
	require.True(t, ok)
	vol, _ := v.Int()
	assert.EqualValues(t, 50, vol)

	v, ok = group[0].Properties.Get("led.pattern")
	require.True(t, ok)
	pat, _ := v.Str()
	assert.Equal(t, "pulse", pat)
}

func TestCatalogSortsBySpecificityDescending(t *testing.T) {
	c := NewCatalog()
	c.Add(New("ringtone", rules(), rules("x", 0)))                     // size 0
	c.Add(New("ringtone", rules("mode", "loud"), rules("x", 1)))        // size 1
	c.Add(New("ringtone", rules("mode", "loud", "vol", 9), rules("x", 2))) // size 2

	group := c.Group("ringtone")
	require.Len(t, group, 3)
	assert.Equal(t, 2, group[0].Rules.Size())
	assert.Equal(t, 1, group[1].Rules.Size())
	assert.Equal(t, 0, group[2].Rules.Size())
}

// TestResolutionSpecificity covers S3: the most specific matching
// event wins, falling back to the zero-rule default.
func TestResolutionSpecificity(t *testing.T) {
	c := NewCatalog()
	loud := New("ringtone", rules("mode", "loud"), rules("which", "loud"))
	def := New("ringtone", rules(), rules("which", "default"))
	c.Add(loud)
	c.Add(def)

	store := ctxstore.New()

	got := c.Evaluate("ringtone", rules("mode", "loud"), store)
	require.NotNil(t, got)
	w, _ := got.Properties.Get("which")
	s, _ := w.Str()
	assert.Equal(t, "loud", s)

	got = c.Evaluate("ringtone", rules("mode", "silent"), store)
	require.NotNil(t, got)
	w, _ = got.Properties.Get("which")
	s, _ = w.Str()
	assert.Equal(t, "default", s)

	got = c.Evaluate("ringtone", rules(), store)
	require.NotNil(t, got)
	w, _ = got.Properties.Get("which")
	s, _ = w.Str()
	assert.Equal(t, "default", s)
}

// TestResolutionAgainstContext covers S4: a context@ rule resolves
// against the context store rather than request properties.
func TestResolutionAgainstContext(t *testing.T) {
	c := NewCatalog()
	def := New("alert", rules(), rules("which", "default"))
	specific := New("alert", rules("context@profile", "silent"), rules("which", "silent"))
	c.Add(def)
	c.Add(specific)

	store := ctxstore.New()
	store.Set("profile", value.NewString("general"))

	got := c.Evaluate("alert", proplist.New(), store)
	require.NotNil(t, got)
	w, _ := got.Properties.Get("which")
	s, _ := w.Str()
	assert.Equal(t, "default", s)

	store.Set("profile", value.NewString("silent"))
	got = c.Evaluate("alert", proplist.New(), store)
	require.NotNil(t, got)
	w, _ = got.Properties.Get("which")
	s, _ = w.Str()
	assert.Equal(t, "silent", s)
}

func TestWildcardRequiresOnlyPresence(t *testing.T) {
	c := NewCatalog()
	c.Add(New("tone", rules("mode", "*"), rules("matched", true)))

	store := ctxstore.New()
	got := c.Evaluate("tone", rules("mode", "anything"), store)
	require.NotNil(t, got)

	got = c.Evaluate("tone", proplist.New(), store)
	assert.Nil(t, got, "wildcard still requires the key to be present")
}

func TestNoMatchReturnsNil(t *testing.T) {
	c := NewCatalog()
	c.Add(New("tone", rules("mode", "loud"), rules()))

	store := ctxstore.New()
	got := c.Evaluate("tone", rules("mode", "quiet"), store)
	assert.Nil(t, got)

	got = c.Evaluate("unknown-event", proplist.New(), store)
	assert.Nil(t, got)
}
