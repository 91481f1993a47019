package tools

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// Conversion helpers behind web_fetch: turn a fetched body into something
// a model can read without burning tokens on markup. Deliberately
// regex-based — a DOM parser would be sturdier, but pages the agent
// fetches are read once and thrown away, and the failure mode of a missed
// tag is a little noise, not corruption.

// extractJSON pretty-prints a JSON body; anything unparsable passes
// through tagged "raw".
func extractJSON(body []byte) (string, string) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		formatted, _ := json.MarshalIndent(data, "", "  ")
		return string(formatted), "json"
	}
	return string(body), "raw"
}

// Boilerplate elements that never carry article content.
var chromeElementRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[\s\S]*?</script>`),
	regexp.MustCompile(`(?is)<style[\s\S]*?</style>`),
	regexp.MustCompile(`<!--[\s\S]*?-->`),
	regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`),
	regexp.MustCompile(`(?is)<header[\s\S]*?</header>`),
	regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`),
}

// markdownRule rewrites one HTML construct into its Markdown shape. Rules
// run in order; pre/code come before the generic tag strip or their
// contents would lose meaning.
type markdownRule struct {
	re  *regexp.Regexp
	out string
}

var markdownRules = []markdownRule{
	{regexp.MustCompile(`(?i)<h1[^>]*>([\s\S]*?)</h1>`), "\n# $1\n"},
	{regexp.MustCompile(`(?i)<h2[^>]*>([\s\S]*?)</h2>`), "\n## $1\n"},
	{regexp.MustCompile(`(?i)<h3[^>]*>([\s\S]*?)</h3>`), "\n### $1\n"},
	{regexp.MustCompile(`(?i)<h4[^>]*>([\s\S]*?)</h4>`), "\n#### $1\n"},
	{regexp.MustCompile(`(?i)<h5[^>]*>([\s\S]*?)</h5>`), "\n##### $1\n"},
	{regexp.MustCompile(`(?i)<h6[^>]*>([\s\S]*?)</h6>`), "\n###### $1\n"},
	{regexp.MustCompile(`(?is)<pre[^>]*>([\s\S]*?)</pre>`), "\n```\n$1\n```\n"},
	{regexp.MustCompile("(?i)<code[^>]*>([\\s\\S]*?)</code>"), "`$1`"},
	{regexp.MustCompile(`(?i)<a[^>]*href="([^"]*)"[^>]*>([\s\S]*?)</a>`), "[$2]($1)"},
	{regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`), "![$1]"},
	{regexp.MustCompile(`(?i)<(?:strong|b)[^>]*>([\s\S]*?)</(?:strong|b)>`), "**$1**"},
	{regexp.MustCompile(`(?i)<(?:em|i)[^>]*>([\s\S]*?)</(?:em|i)>`), "*$1*"},
	{regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`), "\n$1\n"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
	{regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`), "\n- $1"},
}

var (
	blockquoteRe = regexp.MustCompile(`(?is)<blockquote[^>]*>([\s\S]*?)</blockquote>`)
	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	manyBlanksRe = regexp.MustCompile(`\n{3,}`)
	manySpacesRe = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToMarkdown converts a page into Markdown-ish text. Not a full
// Readability pass, but enough structure survives for the model to cite
// headings and follow links.
func htmlToMarkdown(page string) string {
	s := stripChrome(page)

	s = blockquoteRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := blockquoteRe.FindStringSubmatch(match)
		if len(inner) < 2 {
			return match
		}
		var quoted []string
		for _, line := range strings.Split(strings.TrimSpace(inner[1]), "\n") {
			quoted = append(quoted, "> "+strings.TrimSpace(line))
		}
		return "\n" + strings.Join(quoted, "\n") + "\n"
	})

	for _, rule := range markdownRules {
		s = rule.re.ReplaceAllString(s, rule.out)
	}
	s = anyTagRe.ReplaceAllString(s, "")

	return tidyWhitespace(html.UnescapeString(s))
}

// htmlToText flattens a page to plain text: structural breaks kept,
// everything else stripped.
func htmlToText(page string) string {
	s := stripChrome(page)

	for _, rule := range markdownRules[len(markdownRules)-3:] { // p, br, li
		s = rule.re.ReplaceAllString(s, rule.out)
	}
	s = anyTagRe.ReplaceAllString(s, "")
	s = tidyWhitespace(html.UnescapeString(s))

	var clean []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	return strings.Join(clean, "\n")
}

var (
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeRe    = regexp.MustCompile("`[^`]+`")
	mdImageRe   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// markdownToText strips Markdown syntax for callers that asked for plain
// text from an already-converted page.
func markdownToText(md string) string {
	s := mdHeadingRe.ReplaceAllString(md, "")
	s = strings.NewReplacer("**", "", "__", "").Replace(s)
	s = mdCodeRe.ReplaceAllStringFunc(s, func(m string) string { return strings.Trim(m, "`") })
	s = mdImageRe.ReplaceAllString(s, "$1")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(manyBlanksRe.ReplaceAllString(s, "\n\n"))
}

func stripChrome(page string) string {
	for _, re := range chromeElementRes {
		page = re.ReplaceAllString(page, "")
	}
	return page
}

func tidyWhitespace(s string) string {
	s = manySpacesRe.ReplaceAllString(s, " ")
	s = manyBlanksRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
