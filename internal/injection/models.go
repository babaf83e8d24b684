package injection

// Kind of injection item.
type Kind string

const (
	KindSnippet Kind = "code_snippet"
	KindPopup   Kind = "popup"
)

// Placement is where in a page an item is written.
// Popups are never written at a placement; they are indexed under PlacementPopup
// and delivered through the trigger engine payload.
type Placement string

const (
	PlacementHeader    Placement = "header"
	PlacementBodyStart Placement = "body_start"
	PlacementFooter    Placement = "footer"
	PlacementPopup     Placement = "popup"
)

// Language of a code snippet.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangCSS        Language = "css"
	LangHTML       Language = "html"
	LangUniversal  Language = "universal"
	// LangTemplate snippets are executed server-side; see dispatch.TemplateExecutor.
	LangTemplate Language = "template"
)

// ContentType selects which Content fields are meaningful.
type ContentType string

const (
	ContentMarkup ContentType = "markup" // raw text, snippets
	ContentHTML   ContentType = "html"   // compiled html + css + js, popups
	ContentVideo  ContentType = "video"  // provider reference, popups
)

type Content struct {
	Type   ContentType `json:"type"`
	Markup string      `json:"markup,omitempty"`
	HTML   string      `json:"html,omitempty"`
	CSS    string      `json:"css,omitempty"`
	JS     string      `json:"js,omitempty"`
	Video  *Video      `json:"video,omitempty"`
}

// Video providers.
const (
	ProviderYouTube = "youtube"
	ProviderVimeo   = "vimeo"
)

type Video struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
	SourceURL  string `json:"source_url,omitempty"`
	Autoplay   bool   `json:"autoplay"`
}

type TriggerType string

const (
	TriggerPageLoad   TriggerType = "page_load"
	TriggerClickClass TriggerType = "click_class"
	TriggerClickID    TriggerType = "click_id"
)

// IsClick reports whether the trigger fires on a pointer click.
func (t TriggerType) IsClick() bool {
	return t == TriggerClickClass || t == TriggerClickID
}

type Trigger struct {
	Type    TriggerType `json:"type"`
	Value   string      `json:"value,omitempty"`    // selector fragment for click triggers
	DelayMS int         `json:"delay_ms,omitempty"` // page_load only
}

type FrequencyMode string

const (
	FrequencySession  FrequencyMode = "session"
	FrequencyCooldown FrequencyMode = "cooldown"
)

type Frequency struct {
	Mode            FrequencyMode `json:"mode"`
	CooldownMinutes int           `json:"cooldown_minutes,omitempty"`
}

type VisibilityScope string

const (
	VisibilityGlobal VisibilityScope = "global"
	VisibilityPages  VisibilityScope = "pages"
)

type Visibility struct {
	Scope   VisibilityScope `json:"scope"`
	PageIDs []string        `json:"page_ids,omitempty"`
}

// Restricts reports whether the visibility limits delivery to a page set.
// A scoped visibility with no usable ids does not restrict.
func (v Visibility) Restricts() bool {
	return v.Scope == VisibilityPages && len(v.PageIDs) > 0
}

// Exclusions apply to popups only.
type Exclusions struct {
	URLPrefixes []string `json:"url_prefixes,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
}

// Item is one snippet or popup.
type Item struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Title      string     `json:"title"`
	Language   Language   `json:"language,omitempty"`
	Content    Content    `json:"content"`
	Placement  Placement  `json:"placement,omitempty"`
	Trigger    *Trigger   `json:"trigger,omitempty"`
	Frequency  *Frequency `json:"frequency,omitempty"`
	Visibility Visibility `json:"visibility"`
	Exclusions Exclusions `json:"exclusions"`
	Priority   int        `json:"priority"`
	Enabled    bool       `json:"enabled"`
}

// Location is the registry index key for the item.
func (it Item) Location() Placement {
	if it.Kind == KindPopup {
		return PlacementPopup
	}
	return it.Placement
}

// RequestContext describes the page being rendered.
type RequestContext struct {
	ResourceID  string   // current page/post id, empty on archives
	URL         string   // current request URL or path
	CategoryIDs []string // categories the current resource belongs to
}
