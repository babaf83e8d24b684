package injection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-delivery/internal/apperror"
)

func TestParseIDList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"json strings", `["12", " 40 "]`, []string{"12", "40"}},
		{"json numbers", `[12, 40]`, []string{"12", "40"}},
		{"comma list", "12, 40,,7", []string{"12", "40", "7"}},
		{"newline list", "/a\n/b\r\n", []string{"/a", "/b"}},
		{"broken json fails open", `[12, 40`, nil},
		{"object fails open", `{"a":1}`, nil},
		{"nested fails open", `[[1]]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIDList(tt.raw))
		})
	}
}

func TestEncodeList_RoundTripsThroughParser(t *testing.T) {
	assert.Equal(t, "[]", EncodeList(nil))
	assert.Equal(t, []string{"/thanks", "/promo"}, ParsePrefixList(EncodeList([]string{"/thanks", "/promo"})))
}

func TestParseVideoURL(t *testing.T) {
	tests := []struct {
		raw      string
		provider string
		id       string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10", ProviderYouTube, "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", ProviderYouTube, "dQw4w9WgXcQ"},
		{"youtube.com/embed/dQw4w9WgXcQ", ProviderYouTube, "dQw4w9WgXcQ"},
		{"https://m.youtube.com/shorts/dQw4w9WgXcQ", ProviderYouTube, "dQw4w9WgXcQ"},
		{"https://vimeo.com/76979871", ProviderVimeo, "76979871"},
		{"https://vimeo.com/channels/staffpicks/76979871", ProviderVimeo, "76979871"},
		{"https://player.vimeo.com/video/76979871", ProviderVimeo, "76979871"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := ParseVideoURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, v.Provider)
			assert.Equal(t, tt.id, v.ExternalID)
		})
	}
}

func TestParseVideoURL_Rejects(t *testing.T) {
	for _, raw := range []string{"", "https://example.com/video/1", "https://www.youtube.com/watch", "https://vimeo.com/about"} {
		_, err := ParseVideoURL(raw)
		assert.True(t, apperror.IsType(err, apperror.TypeValidation), raw)
	}
}

func TestEmbedURL_MuteParameter(t *testing.T) {
	yt := Video{Provider: ProviderYouTube, ExternalID: "dQw4w9WgXcQ"}
	assert.Equal(t, "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1&mute=1&playsinline=1&rel=0", yt.EmbedURL(true, true))
	assert.NotContains(t, yt.EmbedURL(true, false), "mute")

	vm := Video{Provider: ProviderVimeo, ExternalID: "76979871"}
	assert.Equal(t, "https://player.vimeo.com/video/76979871?autoplay=1&muted=1", vm.EmbedURL(true, true))
	assert.Equal(t, "https://player.vimeo.com/video/76979871?autoplay=0", vm.EmbedURL(false, false))
}

func TestSplitMarkup(t *testing.T) {
	c, err := SplitMarkup(Content{
		Type: ContentHTML,
		HTML: `<style>.x{color:red}</style><div class="x">Hi</div><script>console.log(1)</script><script src="/ext.js"></script>`,
		JS:   "var a = 1;",
	})
	require.NoError(t, err)
	assert.Equal(t, ".x{color:red}", c.CSS)
	assert.Equal(t, "var a = 1;\nconsole.log(1)", c.JS)
	assert.Contains(t, c.HTML, `<div class="x">Hi</div>`)
	assert.Contains(t, c.HTML, `src="/ext.js"`)
	assert.NotContains(t, c.HTML, "<style>")
}

func validPopup() Item {
	return Item{
		Kind:      KindPopup,
		Title:     "Newsletter",
		Content:   Content{Type: ContentHTML, HTML: "<p>Join</p>"},
		Trigger:   &Trigger{Type: TriggerPageLoad, DelayMS: 500},
		Frequency: &Frequency{Mode: FrequencyCooldown, CooldownMinutes: 60},
		Enabled:   true,
	}
}

func TestValidate(t *testing.T) {
	snippet := Item{
		Kind:      KindSnippet,
		Title:     "GA",
		Language:  LangJavaScript,
		Placement: PlacementHeader,
		Content:   Content{Type: ContentMarkup, Markup: "gtag()"},
	}
	require.NoError(t, snippet.Validate())
	require.NoError(t, validPopup().Validate())

	tests := []struct {
		name   string
		mutate func(*Item)
	}{
		{"no title", func(it *Item) { it.Title = " " }},
		{"unknown kind", func(it *Item) { it.Kind = "banner" }},
		{"no trigger", func(it *Item) { it.Trigger = nil }},
		{"click without value", func(it *Item) { it.Trigger = &Trigger{Type: TriggerClickClass} }},
		{"negative delay", func(it *Item) { it.Trigger.DelayMS = -1 }},
		{"cooldown without minutes", func(it *Item) { it.Frequency.CooldownMinutes = 0 }},
		{"unknown mode", func(it *Item) { it.Frequency.Mode = "daily" }},
		{"video without ref", func(it *Item) { it.Content = Content{Type: ContentVideo} }},
		{"markup content on popup", func(it *Item) { it.Content = Content{Type: ContentMarkup} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := validPopup()
			tt.mutate(&it)
			err := it.Validate()
			assert.True(t, apperror.IsType(err, apperror.TypeValidation), "got %v", err)
		})
	}
}

func TestNormalize_Popup(t *testing.T) {
	it := Item{
		Kind:      KindPopup,
		Title:     " Promo ",
		Placement: PlacementFooter,
		Trigger:   &Trigger{Type: TriggerClickClass, Value: ".open-promo", DelayMS: 300},
		Content: Content{Type: ContentVideo, Video: &Video{
			SourceURL: "https://youtu.be/dQw4w9WgXcQ",
			Autoplay:  true,
		}},
	}
	require.NoError(t, it.Normalize())

	assert.Equal(t, "Promo", it.Title)
	assert.Equal(t, Placement(""), it.Placement)
	assert.Equal(t, PlacementPopup, it.Location())
	assert.Equal(t, "open-promo", it.Trigger.Value)
	assert.Zero(t, it.Trigger.DelayMS)
	assert.Equal(t, FrequencySession, it.Frequency.Mode)
	assert.Equal(t, VisibilityGlobal, it.Visibility.Scope)
	assert.Equal(t, "dQw4w9WgXcQ", it.Content.Video.ExternalID)
	assert.True(t, it.Content.Video.Autoplay)
	require.NoError(t, it.Validate())
}

func TestVisibilityRestricts(t *testing.T) {
	assert.False(t, Visibility{Scope: VisibilityGlobal, PageIDs: []string{"1"}}.Restricts())
	assert.False(t, Visibility{Scope: VisibilityPages}.Restricts())
	assert.True(t, Visibility{Scope: VisibilityPages, PageIDs: []string{"1"}}.Restricts())
}
