package login

import (
	"net/url"
	"regexp"

	"github.com/tidwall/gjson"
)

// CodeExtractor pulls an authorization code out of the authorize
// endpoint's response. The endpoint is heterogeneous: the code can
// arrive as a URL query parameter, an embedded JSON field, or buried
// in the page markup, so extraction is an ordered list of strategies,
// each testable in isolation.
type CodeExtractor interface {
	Name() string
	Extract(pageURL, body string) (code string, ok bool)
}

// URLParamExtractor reads the code from a query parameter of the
// current page URL.
type URLParamExtractor struct {
	Param string
}

func (e URLParamExtractor) Name() string { return "url-param" }

func (e URLParamExtractor) Extract(pageURL, _ string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	code := u.Query().Get(e.Param)
	return code, code != ""
}

// JSONFieldExtractor reads the code from a field of a JSON response
// body.
type JSONFieldExtractor struct {
	Path string
}

func (e JSONFieldExtractor) Name() string { return "json-field" }

func (e JSONFieldExtractor) Extract(_, body string) (string, bool) {
	result := gjson.Get(body, e.Path)
	if !result.Exists() {
		return "", false
	}
	code := result.String()
	return code, code != ""
}

// BodyRegexExtractor scans the raw markup for a code-shaped field
// assignment. Last resort when the body is JSON embedded in HTML.
type BodyRegexExtractor struct {
	Pattern *regexp.Regexp
}

func (e BodyRegexExtractor) Name() string { return "body-regex" }

func (e BodyRegexExtractor) Extract(_, body string) (string, bool) {
	m := e.Pattern.FindStringSubmatch(body)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// defaultExtractors is the production strategy order.
func defaultExtractors() []CodeExtractor {
	return []CodeExtractor{
		URLParamExtractor{Param: "code"},
		JSONFieldExtractor{Path: "authorizationCode"},
		BodyRegexExtractor{Pattern: regexp.MustCompile(`"authorizationCode"\s*:\s*"([0-9a-fA-F]{32})"`)},
	}
}
