package proxy

import (
	"bufio"
	"net/url"
	"regexp"
	"strings"
)

var uriAttrRe = regexp.MustCompile(`URI="([^"]*)"`)

// MintFunc turns a resolved absolute upstream URL into a proxied URL.
// Returning false leaves the original reference untouched.
type MintFunc func(absoluteURL string) (string, bool)

// RewriteManifest rewrites an HLS playlist so every reference flows back
// through the proxy. Comment lines keep their tag structure and only the
// quoted URI attribute is replaced; bare lines are segment or
// sub-playlist references and are replaced wholesale. Line count is
// preserved. Returns the rewritten body and the number of replaced
// references.
func RewriteManifest(body, manifestURL string, mint MintFunc) (string, int) {
	base, err := url.Parse(manifestURL)
	if err != nil || !base.IsAbs() {
		return body, 0
	}

	resolve := func(ref string) (string, bool) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return "", false
		}
		u, err := url.Parse(ref)
		if err != nil {
			return "", false
		}
		abs := u
		if !u.IsAbs() {
			abs = base.ResolveReference(u)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return "", false
		}
		return mint(abs.String())
	}

	var out strings.Builder
	out.Grow(len(body) * 2)
	rewritten := 0

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !first {
			out.WriteByte('\n')
		}
		first = false

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out.WriteString(line)
		case strings.HasPrefix(trimmed, "#"):
			// Tags like #EXT-X-KEY and #EXT-X-MEDIA reference sub-resources
			// through a quoted URI attribute.
			out.WriteString(uriAttrRe.ReplaceAllStringFunc(line, func(m string) string {
				ref := uriAttrRe.FindStringSubmatch(m)[1]
				proxied, ok := resolve(ref)
				if !ok {
					return m
				}
				rewritten++
				return `URI="` + proxied + `"`
			}))
		default:
			proxied, ok := resolve(trimmed)
			if !ok {
				out.WriteString(line)
				break
			}
			rewritten++
			out.WriteString(proxied)
		}
	}
	if scanner.Err() != nil {
		return body, 0
	}
	if strings.HasSuffix(body, "\n") {
		out.WriteByte('\n')
	}
	return out.String(), rewritten
}

// looksLikeManifest reports whether an upstream response should be
// treated as an HLS playlist, by content type or URL suffix.
func looksLikeManifest(contentType, upstreamURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	if u, err := url.Parse(upstreamURL); err == nil {
		return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
	}
	return false
}
