// Package useragent classifies HTTP clients as interactive browsers or
// programmatic executors from the User-Agent header alone.
//
// This is a UX deterrent, not a security boundary: any client can spoof
// its way to either branch. The distributor uses it only to decide between
// the landing page and the raw redirect.
package useragent

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var tokensYAML []byte

var browserTokens []string

func init() {
	var doc struct {
		Browsers []string `yaml:"browsers"`
	}
	if err := yaml.Unmarshal(tokensYAML, &doc); err != nil {
		panic("useragent: parse embedded tokens.yaml: " + err.Error())
	}
	browserTokens = make([]string, 0, len(doc.Browsers))
	for _, tok := range doc.Browsers {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			browserTokens = append(browserTokens, tok)
		}
	}
}

// IsBrowser reports whether ua matches the known browser vocabulary.
// Empty or absent User-Agent strings classify as non-browser: real
// browsers always send one, script runtimes frequently do not.
func IsBrowser(ua string) bool {
	if ua == "" {
		return false
	}
	lowered := strings.ToLower(ua)
	for _, tok := range browserTokens {
		if strings.Contains(lowered, tok) {
			return true
		}
	}
	return false
}
