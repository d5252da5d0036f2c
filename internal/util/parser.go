package util

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// FileLinks returns the base names of the files linked from an index page
// whose path ends in suffix, compared case-insensitively. Query strings and
// fragments are ignored, directory links are skipped and each name is
// returned once, in document order.
func FileLinks(n *html.Node, suffix string) []string {
	suffix = strings.ToLower(suffix)
	seen := make(map[string]bool)
	var names []string

	var walk func(*html.Node)
	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			if name, ok := linkedFile(nd, suffix); ok && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return names
}

func linkedFile(a *html.Node, suffix string) (string, bool) {
	for _, attr := range a.Attr {
		if attr.Key != "href" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(attr.Val))
		if err != nil || u.Path == "" || strings.HasSuffix(u.Path, "/") {
			return "", false
		}
		name := path.Base(u.Path)
		if !strings.HasSuffix(strings.ToLower(name), suffix) {
			return "", false
		}
		return name, true
	}
	return "", false
}
