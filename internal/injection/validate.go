package injection

import (
	"fmt"
	"strings"

	"anchor-delivery/internal/apperror"
)

// Validate rejects items whose shape cannot be delivered. It never partially
// fixes an item; Normalize handles defaults.
func (it Item) Validate() error {
	if strings.TrimSpace(it.Title) == "" {
		return apperror.NewValidation("title is required")
	}
	switch it.Kind {
	case KindSnippet:
		return it.validateSnippet()
	case KindPopup:
		return it.validatePopup()
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown kind %q", it.Kind))
	}
}

func (it Item) validateSnippet() error {
	switch it.Language {
	case LangJavaScript, LangCSS, LangHTML, LangUniversal, LangTemplate:
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown language %q", it.Language))
	}
	switch it.Placement {
	case PlacementHeader, PlacementBodyStart, PlacementFooter:
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown placement %q", it.Placement))
	}
	if it.Content.Type != ContentMarkup {
		return apperror.NewValidation("code snippets carry markup content")
	}
	return nil
}

func (it Item) validatePopup() error {
	if it.Trigger == nil {
		return apperror.NewValidation("popup trigger is required")
	}
	switch it.Trigger.Type {
	case TriggerPageLoad:
		if it.Trigger.DelayMS < 0 {
			return apperror.NewValidation("delay_ms must not be negative")
		}
	case TriggerClickClass, TriggerClickID:
		if strings.TrimSpace(it.Trigger.Value) == "" {
			return apperror.NewValidation("click triggers need a selector value")
		}
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown trigger type %q", it.Trigger.Type))
	}

	if it.Frequency == nil {
		return apperror.NewValidation("popup frequency is required")
	}
	switch it.Frequency.Mode {
	case FrequencySession:
	case FrequencyCooldown:
		if it.Frequency.CooldownMinutes <= 0 {
			return apperror.NewValidation("cooldown_minutes must be positive")
		}
	default:
		return apperror.NewValidation(fmt.Sprintf("unknown frequency mode %q", it.Frequency.Mode))
	}

	switch it.Content.Type {
	case ContentHTML:
	case ContentVideo:
		v := it.Content.Video
		if v == nil || v.ExternalID == "" {
			return apperror.NewValidation("video popups need a video reference")
		}
		if v.Provider != ProviderYouTube && v.Provider != ProviderVimeo {
			return apperror.NewValidation(fmt.Sprintf("unsupported video provider %q", v.Provider))
		}
	default:
		return apperror.NewValidation("popups carry html or video content")
	}
	return nil
}

// Normalize fills defaults and derives fields before validation.
func (it *Item) Normalize() error {
	it.Title = strings.TrimSpace(it.Title)
	if it.Visibility.Scope == "" {
		it.Visibility.Scope = VisibilityGlobal
	}
	if it.Kind == KindPopup {
		it.Placement = ""
		it.Language = ""
		if it.Frequency == nil {
			it.Frequency = &Frequency{Mode: FrequencySession}
		}
		if it.Trigger != nil && it.Trigger.Type.IsClick() {
			it.Trigger.Value = strings.TrimLeft(strings.TrimSpace(it.Trigger.Value), ".#")
			it.Trigger.DelayMS = 0
		}
		if it.Content.Type == ContentVideo && it.Content.Video != nil &&
			it.Content.Video.ExternalID == "" && it.Content.Video.SourceURL != "" {
			v, err := ParseVideoURL(it.Content.Video.SourceURL)
			if err != nil {
				return err
			}
			v.Autoplay = it.Content.Video.Autoplay
			it.Content.Video = &v
		}
		if it.Content.Type == ContentHTML {
			c, err := SplitMarkup(it.Content)
			if err != nil {
				return apperror.NewValidation("popup html could not be parsed")
			}
			it.Content = c
		}
	} else {
		it.Exclusions = Exclusions{}
		it.Trigger = nil
		it.Frequency = nil
	}
	return nil
}
