package chat

import (
	"html"
	"log"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// Line is one rendered paragraph. Text is HTML-escaped with the inline
// markup already applied.
type Line struct {
	Text   string
	Bullet bool
}

type markup struct {
	strongOpen, strongClose string
	emOpen, emClose         string
}

var (
	htmlMarkup     = markup{"<strong>", "</strong>", "<em>", "</em>"}
	telegramMarkup = markup{"<b>", "</b>", "<i>", "</i>"}
)

var boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)

// A single-asterisk span that is not glued to a word character or another
// asterisk and has no whitespace just inside its markers. RE2 has no
// look-around, hence regexp2.
var italicRe = regexp2.MustCompile(`(?<![\*A-Za-z0-9_])\*(?!\*|\s)(.*?)(?<!\s|\*)\*(?![\*A-Za-z0-9_])`, regexp2.None)

// Render splits a bot message into paragraphs. Lines starting with "* " are
// bullets. Lines that end up empty are dropped.
func Render(text string) []Line {
	return render(text, htmlMarkup)
}

func render(text string, m markup) []Line {
	var out []Line
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		bullet := false
		if strings.HasPrefix(line, "* ") {
			bullet = true
			line = strings.TrimSpace(line[2:])
		}
		line = strings.TrimSpace(inline(html.EscapeString(line), m))
		if line == "" {
			continue
		}
		out = append(out, Line{Text: line, Bullet: bullet})
	}
	return out
}

// inline applies bold, then italic. An italic span that would cut across a
// bold span is left as literal asterisks, so the emitted tags always nest.
func inline(line string, m markup) string {
	line = boldRe.ReplaceAllString(line, m.strongOpen+"${1}"+m.strongClose)
	out, err := italicRe.ReplaceFunc(line, func(match regexp2.Match) string {
		inner := match.GroupByNumber(1).String()
		if !balanced(inner, m.strongOpen, m.strongClose) {
			return match.String()
		}
		return m.emOpen + inner + m.emClose
	}, -1, -1)
	if err != nil {
		log.Printf("⚠️ italic markup skipped: %v", err)
		return line
	}
	return out
}

func balanced(s, openTag, closeTag string) bool {
	depth := 0
	for s != "" {
		o, c := strings.Index(s, openTag), strings.Index(s, closeTag)
		switch {
		case o < 0 && c < 0:
			return depth == 0
		case c < 0 || (o >= 0 && o < c):
			depth++
			s = s[o+len(openTag):]
		default:
			depth--
			if depth < 0 {
				return false
			}
			s = s[c+len(closeTag):]
		}
	}
	return depth == 0
}

// HTML renders text as browser paragraphs. When nothing survives the
// processing the escaped raw text is returned.
func HTML(text string) string {
	lines := Render(text)
	if len(lines) == 0 {
		return html.EscapeString(text)
	}
	var b strings.Builder
	for _, l := range lines {
		if l.Bullet {
			b.WriteString(`<p style="margin-left: 1em; text-indent: -1em;">•&nbsp;` + l.Text + `</p>`)
		} else {
			b.WriteString("<p>" + l.Text + "</p>")
		}
	}
	return b.String()
}

// Telegram renders text for the HTML parse mode of the Bot API, which has no
// paragraph tags.
func Telegram(text string) string {
	lines := render(text, telegramMarkup)
	if len(lines) == 0 {
		return html.EscapeString(text)
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Bullet {
			parts = append(parts, "• "+l.Text)
		} else {
			parts = append(parts, l.Text)
		}
	}
	return strings.Join(parts, "\n")
}
