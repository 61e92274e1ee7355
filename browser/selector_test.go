package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		parts   []string
		wantErr string
	}{
		{name: "single css", raw: ".feature-card", parts: []string{".feature-card"}},
		{name: "css prefix", raw: "css=h1.hero-title", parts: []string{"h1.hero-title"}},
		{name: "chain", raw: ".feature-card >> nth=1 >> .feature-title", parts: []string{".feature-card", "nth=1", ".feature-title"}},
		{name: "negative nth", raw: "li >> nth=-1", parts: []string{"li", "nth=-1"}},
		{name: "empty", raw: "  ", wantErr: "empty selector"},
		{name: "empty part", raw: "a >> ", wantErr: "empty part"},
		{name: "bad nth", raw: "a >> nth=x", wantErr: "invalid nth"},
		{name: "bad css", raw: "a[href", wantErr: "invalid css"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseSelector(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, p := range sel.Parts {
				got = append(got, p.String())
			}
			assert.Equal(t, tt.parts, got)
			assert.Equal(t, tt.raw, sel.String())
		})
	}
}

func TestSelectorChaining(t *testing.T) {
	cards := MustParseSelector(".feature-card")
	title := MustParseSelector(".feature-title")

	sel := cards.Nth(2).Child(title)
	assert.Equal(t, ".feature-card >> nth=2 >> .feature-title", sel.String())
	require.Len(t, sel.Parts, 3)
	require.NotNil(t, sel.Parts[1].Nth)
	assert.Equal(t, 2, *sel.Parts[1].Nth)
	assert.Equal(t, `[{"css":".feature-card"},{"nth":2},{"css":".feature-title"}]`, sel.JSON())

	// The receiver is not modified.
	assert.Len(t, cards.Parts, 1)
}

func TestPickNth(t *testing.T) {
	assert.Equal(t, 0, PickNth(0, 3))
	assert.Equal(t, 2, PickNth(-1, 3))
	assert.Equal(t, -1, PickNth(3, 3))
	assert.Equal(t, -1, PickNth(-4, 3))
	assert.Equal(t, -1, PickNth(0, 0))
}

func TestCheckStrict(t *testing.T) {
	sel := MustParseSelector("a.cta-secondary")
	assert.NoError(t, CheckStrict(sel, 1))
	assert.True(t, errors.Is(CheckStrict(sel, 0), ErrElementNotFound))

	var strictErr *StrictModeError
	require.ErrorAs(t, CheckStrict(sel, 2), &strictErr)
	assert.Equal(t, 2, strictErr.Count)
}

func TestLocatorChaining(t *testing.T) {
	cards, err := Locate(nil, ".feature-card")
	require.NoError(t, err)
	title, err := cards.Nth(1).Locator(".feature-title")
	require.NoError(t, err)
	assert.Equal(t, ".feature-card >> nth=1 >> .feature-title", title.String())
	assert.Equal(t, ".feature-card", cards.String(), "chaining returns a new locator")

	_, err = Locate(nil, "")
	assert.Error(t, err)
	_, err = cards.Locator("")
	assert.Error(t, err)
}
