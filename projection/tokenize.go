package projection

import (
	"regexp"
	"strconv"
)

// Token types.
const (
	TokenText      = "text"
	TokenUser      = "user"
	TokenRole      = "role"
	TokenChannel   = "channel"
	TokenTimestamp = "timestamp"
	TokenEmoji     = "emoji"
	TokenTenor     = "tenor"
)

// Token is a typed span of message content.
type Token struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ID       string `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	TS       int64  `json:"ts,omitempty"`
	Name     string `json:"name,omitempty"`
	Animated bool   `json:"animated,omitempty"`
	URL      string `json:"url,omitempty"`
}

var (
	markupPattern = regexp.MustCompile(`<@!?(\d+)>|<@&(\d+)>|<#(\d+)>|<t:(\d+):R>|<(a?):([a-zA-Z0-9_]+):(\d+)>`)
	tenorPattern  = regexp.MustCompile(`(?i)https?://\S*tenor\.com\S*`)
	mentionUser   = regexp.MustCompile(`<@!?(\d+)>`)
)

// Tokenize splits content into text, mention, timestamp, emoji and Tenor
// link tokens. Names are looked up in cache, which may be nil.
func Tokenize(content string, cache *EntityCache) []Token {
	tokens := []Token{}
	last := 0
	for _, m := range markupPattern.FindAllStringSubmatchIndex(content, -1) {
		if m[0] > last {
			tokens = appendText(tokens, content[last:m[0]])
		}
		raw := content[m[0]:m[1]]
		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return content[m[2*i]:m[2*i+1]]
		}

		switch {
		case m[2] >= 0:
			id := group(1)
			tokens = append(tokens, Token{Type: TokenUser, ID: id, Label: cache.userLabel(id)})
		case m[4] >= 0:
			id := group(2)
			label := raw
			if name, ok := cache.role(id); ok {
				label = "@" + name
			}
			tokens = append(tokens, Token{Type: TokenRole, ID: id, Label: label})
		case m[6] >= 0:
			id := group(3)
			label := raw
			if name, ok := cache.channel(id); ok {
				label = "#" + name
			}
			tokens = append(tokens, Token{Type: TokenChannel, ID: id, Label: label})
		case m[8] >= 0:
			ts, err := strconv.ParseInt(group(4), 10, 64)
			if err != nil {
				tokens = appendText(tokens, raw)
				break
			}
			tokens = append(tokens, Token{Type: TokenTimestamp, TS: ts})
		case m[10] >= 0:
			tokens = append(tokens, Token{
				Type:     TokenEmoji,
				ID:       group(7),
				Name:     group(6),
				Animated: group(5) == "a",
			})
		}
		last = m[1]
	}
	if last < len(content) {
		tokens = appendText(tokens, content[last:])
	}
	return tokens
}

// appendText adds plain text, lifting Tenor links into their own tokens.
func appendText(tokens []Token, chunk string) []Token {
	last := 0
	for _, loc := range tenorPattern.FindAllStringIndex(chunk, -1) {
		if loc[0] > last {
			tokens = append(tokens, Token{Type: TokenText, Text: chunk[last:loc[0]]})
		}
		tokens = append(tokens, Token{Type: TokenTenor, URL: chunk[loc[0]:loc[1]]})
		last = loc[1]
	}
	if last < len(chunk) {
		tokens = append(tokens, Token{Type: TokenText, Text: chunk[last:]})
	}
	return tokens
}

// MentionedUsers returns the user ids mentioned in content, in order of first use.
func MentionedUsers(content string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range mentionUser.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}
