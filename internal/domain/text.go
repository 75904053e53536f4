package domain

import (
	"regexp"
	"strings"
)

// Facet feature discriminators.
const (
	featureLink    = "app.bsky.richtext.facet#link"
	featureMention = "app.bsky.richtext.facet#mention"
	featureTag     = "app.bsky.richtext.facet#tag"
)

var (
	hashtagPattern = regexp.MustCompile(`(?:^|[\s(])#([\p{L}\p{N}_]*[\p{L}_][\p{L}\p{N}_]*)`)
	mentionPattern = regexp.MustCompile(`(?:^|[\s(])@([a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?)+)`)
)

// Hashtags returns the tags annotated by facets, the record's outline tags and
// any #word found in the text, de-duplicated in first-seen order.
func Hashtags(rec *Record) []string {
	if rec == nil {
		return []string{}
	}
	var fromFacets []string
	for _, f := range rec.Facets {
		for _, feat := range f.Features {
			if feat.Tag != "" && (feat.Type == featureTag || feat.Type == "") {
				fromFacets = append(fromFacets, feat.Tag)
			}
		}
	}
	return union(fromFacets, rec.Tags, scan(hashtagPattern, rec.Text))
}

// Mentions returns mentioned DIDs from facets together with any @handle found
// in the text outside the byte ranges those facets cover, so a resolved
// mention is reported once.
func Mentions(rec *Record) []string {
	if rec == nil {
		return []string{}
	}
	var (
		fromFacets []string
		covered    []FacetIndex
	)
	for _, f := range rec.Facets {
		for _, feat := range f.Features {
			if feat.DID != "" && (feat.Type == featureMention || feat.Type == "") {
				fromFacets = append(fromFacets, feat.DID)
				if f.Index.ByteEnd > f.Index.ByteStart {
					covered = append(covered, f.Index)
				}
			}
		}
	}

	var fromText []string
	for _, m := range mentionPattern.FindAllStringSubmatchIndex(rec.Text, -1) {
		// The range starts at the '@' in front of the handle.
		start, end := m[2]-1, m[3]
		if overlapsAny(start, end, covered) {
			continue
		}
		fromText = append(fromText, strings.TrimRight(rec.Text[m[2]:m[3]], "."))
	}
	return union(fromFacets, fromText)
}

func overlapsAny(start, end int, ranges []FacetIndex) bool {
	for _, r := range ranges {
		if start < r.ByteEnd && r.ByteStart < end {
			return true
		}
	}
	return false
}

// EmbeddedURLs returns facet link targets and the external embed card URI.
// Only http(s) links are kept.
func EmbeddedURLs(rec *Record) []string {
	if rec == nil {
		return []string{}
	}
	var links []string
	for _, f := range rec.Facets {
		for _, feat := range f.Features {
			if feat.URI != "" && (feat.Type == featureLink || feat.Type == "") {
				links = append(links, feat.URI)
			}
		}
	}
	if ext := rec.ExternalURI(); ext != "" {
		links = append(links, ext)
	}

	out := make([]string, 0, len(links))
	for _, l := range union(links) {
		if strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
			out = append(out, l)
		}
	}
	return out
}

func scan(re *regexp.Regexp, text string) []string {
	if text == "" {
		return nil
	}
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimRight(m[1], "."))
	}
	return out
}

// union concatenates lists, dropping empty strings and repeats. The result is
// never nil.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
