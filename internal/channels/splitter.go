package channels

import "strings"

// Platform message caps.
const (
	TelegramMessageLimit = 4096
	DiscordMessageLimit  = 2000
)

// Split breaks text into pieces no longer than limit bytes, preferring
// paragraph boundaries, then lines, then words. Only a single word
// longer than the limit is cut mid-token.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
	}

	appendUnit := func(unit, sep string) {
		if current.Len() > 0 && current.Len()+len(sep)+len(unit) > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(unit)
	}

	for _, para := range strings.Split(text, "\n\n") {
		if len(para) <= limit {
			appendUnit(para, "\n\n")
			continue
		}
		for _, line := range strings.Split(para, "\n") {
			if len(line) <= limit {
				appendUnit(line, "\n")
				continue
			}
			for _, word := range strings.Fields(line) {
				for len(word) > limit {
					appendUnit(word[:limit], " ")
					flush()
					word = word[limit:]
				}
				appendUnit(word, " ")
			}
		}
	}
	flush()
	return out
}
