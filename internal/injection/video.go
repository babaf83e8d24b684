package injection

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"anchor-delivery/internal/apperror"
)

var (
	youTubeIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)
	vimeoIDRe   = regexp.MustCompile(`^[0-9]+$`)
)

// ParseVideoURL extracts the provider and external id from a YouTube or Vimeo URL.
func ParseVideoURL(raw string) (Video, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Video{}, apperror.NewValidation("video url is not a valid URL")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	var id, provider string
	switch host {
	case "youtube.com", "youtube-nocookie.com":
		provider = ProviderYouTube
		switch {
		case len(segs) >= 1 && segs[0] == "watch":
			id = u.Query().Get("v")
		case len(segs) >= 2 && (segs[0] == "embed" || segs[0] == "shorts" || segs[0] == "live" || segs[0] == "v"):
			id = segs[1]
		}
	case "youtu.be":
		provider = ProviderYouTube
		if len(segs) >= 1 {
			id = segs[0]
		}
	case "vimeo.com":
		provider = ProviderVimeo
		// vimeo.com/<id> or vimeo.com/channels/<name>/<id>
		for i := len(segs) - 1; i >= 0; i-- {
			if vimeoIDRe.MatchString(segs[i]) {
				id = segs[i]
				break
			}
		}
	case "player.vimeo.com":
		provider = ProviderVimeo
		if len(segs) >= 2 && segs[0] == "video" {
			id = segs[1]
		}
	default:
		return Video{}, apperror.NewValidation(fmt.Sprintf("unsupported video host %q", host))
	}

	valid := youTubeIDRe
	if provider == ProviderVimeo {
		valid = vimeoIDRe
	}
	if !valid.MatchString(id) {
		return Video{}, apperror.NewValidation("video id could not be found in url")
	}
	return Video{Provider: provider, ExternalID: id, SourceURL: raw}, nil
}

// EmbedURL builds the provider iframe URL. The mute parameter is only present
// when muted is set.
func (v Video) EmbedURL(autoplay, muted bool) string {
	q := url.Values{}
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	q.Set("autoplay", flag(autoplay))

	switch v.Provider {
	case ProviderVimeo:
		if muted {
			q.Set("muted", "1")
		}
		return "https://player.vimeo.com/video/" + url.PathEscape(v.ExternalID) + "?" + q.Encode()
	default:
		if muted {
			q.Set("mute", "1")
		}
		q.Set("playsinline", "1")
		q.Set("rel", "0")
		return "https://www.youtube.com/embed/" + url.PathEscape(v.ExternalID) + "?" + q.Encode()
	}
}
