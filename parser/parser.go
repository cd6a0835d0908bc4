// Package parser turns raw extracted strings into typed values.
package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/aluiziolira/go-scrape-it/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"
)

const defaultRegexCacheSize = 256

// Transformer applies a rule's transformation steps to raw strings. It is
// safe for concurrent use.
type Transformer struct {
	regexps *lru.Cache[string, *regexp.Regexp]
}

// NewTransformer builds a Transformer holding up to size compiled patterns.
func NewTransformer(size int) *Transformer {
	if size <= 0 {
		size = defaultRegexCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return &Transformer{regexps: cache}
}

// Transform runs the text steps then the type coercion for rule.
func (t *Transformer) Transform(raw string, rule *config.FieldRule) models.Value {
	return Coerce(t.Apply(raw, rule), rule)
}

// Apply runs the text steps in order: strip HTML, regex, replace, case,
// trim.
func (t *Transformer) Apply(value string, rule *config.FieldRule) string {
	if rule.StripHTML {
		value = StripHTML(value)
	}
	if rule.Regex != "" {
		value = t.FirstMatch(value, rule.Regex)
	}
	if len(rule.Replace) == 2 {
		value = Replace(value, rule.Replace[0], rule.Replace[1])
	}
	switch {
	case rule.Uppercase:
		value = strings.ToUpper(value)
	case rule.Lowercase:
		value = strings.ToLower(value)
	}
	if rule.ShouldTrim() {
		value = strings.TrimSpace(value)
	}
	return value
}

// FirstMatch returns the leftmost match of pattern in value. A value without
// a match, or an uncompilable pattern, is returned unchanged.
func (t *Transformer) FirstMatch(value, pattern string) string {
	re, ok := t.regexps.Get(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return value
		}
		t.regexps.Add(pattern, compiled)
		re = compiled
	}
	loc := re.FindStringIndex(value)
	if loc == nil {
		return value
	}
	return value[loc[0]:loc[1]]
}

// Replace substitutes every non-overlapping occurrence of search.
func Replace(value, search, replacement string) string {
	if search == "" {
		return value
	}
	return strings.ReplaceAll(value, search, replacement)
}

// StripHTML reduces markup to the concatenation of its text nodes.
func StripHTML(value string) string {
	if !strings.ContainsRune(value, '<') {
		return value
	}
	z := html.NewTokenizer(strings.NewReader(value))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// Coerce converts the transformed string into the rule's output type.
func Coerce(value string, rule *config.FieldRule) models.Value {
	switch {
	case rule.ToNumber:
		return models.Number(ToNumber(value))
	case rule.ToBoolean:
		return models.Bool(ToBoolean(value))
	default:
		return models.Text(value)
	}
}

// ToNumber parses value as a float64. Anything unparsable, NaN or infinite
// yields 0.
func ToNumber(value string) float64 {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}

// ToBoolean is true for "true", "yes", "1" and "on", case-insensitively.
func ToBoolean(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "on":
		return true
	default:
		return false
	}
}
