package generator

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".heic": true,
	".avif": true,
}

// Hosts that serve images without a file extension.
var imageHosts = map[string]bool{
	"imagedelivery.net":              true,
	"i.imgur.com":                    true,
	"imgur.com":                      true,
	"res.cloudinary.com":             true,
	"i.ibb.co":                       true,
	"pbs.twimg.com":                  true,
	"media.tenor.com":                true,
	"ipfs.decentralized-content.com": true,
}

// Host and path prefix pairs for hosts that serve more than images.
var imagePathPrefixes = map[string]string{
	"cdn.discordapp.com": "/attachments/",
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// DetectImage returns the first image URL attached to the event, checking
// embeds before URLs found in the text. ok is false when there is none.
func DetectImage(ev types.NotificationEvent) (imageURL string, ok bool) {
	for _, e := range ev.Embeds {
		if strings.HasPrefix(strings.ToLower(e.MediaType), "image/") && e.URL != "" {
			return e.URL, true
		}
		if isImageURL(e.URL) {
			return e.URL, true
		}
	}
	for _, u := range urlPattern.FindAllString(ev.Text, -1) {
		if isImageURL(u) {
			return u, true
		}
	}
	return "", false
}

func isImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if imageHosts[host] {
		return true
	}
	if prefix, ok := imagePathPrefixes[host]; ok && strings.HasPrefix(u.Path, prefix) {
		return true
	}
	return imageExtensions[strings.ToLower(path.Ext(u.Path))]
}
