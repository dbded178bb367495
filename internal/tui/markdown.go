package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	mdCodeBlockRe = regexp.MustCompile(`(?s)<pre><code(?: class="language-([a-zA-Z0-9]+)")?>(.*?)</code></pre>`)
	mdHeadingRe   = regexp.MustCompile(`<h([1-6]) id="[^"]*">(.*?)</h[1-6]>`)
	mdStrongRe    = regexp.MustCompile(`<strong>(.*?)</strong>`)
	mdEmRe        = regexp.MustCompile(`<em>(.*?)</em>`)
	mdLinkRe      = regexp.MustCompile(`<a href="([^"]*)">(.*?)</a>`)
	mdQuoteRe     = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	mdListRe      = regexp.MustCompile(`(?s)<(ul|ol)>(.*?)</(?:ul|ol)>`)
	mdItemRe      = regexp.MustCompile(`<li>(.*?)</li>`)
	mdInlineRe    = regexp.MustCompile(`<code>([^<]+)</code>`)
	mdAnyTagRe    = regexp.MustCompile(`<[^>]+>`)
	mdBlankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// ReplyRenderer turns the markdown the assistant sends back into styled
// terminal text. Replies are rendered through goldmark first and the
// resulting HTML is rewritten tag by tag, with chroma handling fenced
// code blocks.
type ReplyRenderer struct {
	md        goldmark.Markdown
	theme     Theme
	formatter chroma.Formatter
	codeStyle *chroma.Style
}

func NewReplyRenderer(theme Theme) *ReplyRenderer {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
		goldmark.WithExtensions(
			extension.GFM,
			extension.Strikethrough,
		),
	)

	codeStyle := styles.Get("monokai")
	if theme.Name == ThemePorcelain {
		codeStyle = styles.Get("friendly")
	}

	return &ReplyRenderer{
		md:        md,
		theme:     theme,
		formatter: formatters.Get("terminal256"),
		codeStyle: codeStyle,
	}
}

// Render converts a markdown reply into terminal output wrapped to width.
// On any conversion failure the raw text comes back unchanged so a reply
// is never lost to a rendering bug.
func (r *ReplyRenderer) Render(content string, width int) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return r.rewrite(buf.String(), width)
}

func (r *ReplyRenderer) rewrite(htmlContent string, width int) string {
	out := htmlContent

	// Code blocks are pulled out first so the later tag passes cannot
	// touch their contents.
	var fenced []string
	out = mdCodeBlockRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdCodeBlockRe.FindStringSubmatch(m)
		if len(sub) < 3 {
			return m
		}
		code := decodeEntities(sub[2])
		block := lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(r.theme.Border).
			Render(r.highlight(code, sub[1]))
		fenced = append(fenced, block)
		return fmt.Sprintf("\n{{fenced:%d}}\n", len(fenced)-1)
	})

	out = mdInlineRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdInlineRe.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		return lipgloss.NewStyle().
			Foreground(r.theme.Accent).
			Render(decodeEntities(sub[1]))
	})

	out = mdHeadingRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdHeadingRe.FindStringSubmatch(m)
		if len(sub) < 3 {
			return m
		}
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(r.theme.Accent).
			Render(sub[2]) + "\n"
	})

	out = mdStrongRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdStrongRe.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		return lipgloss.NewStyle().Bold(true).Render(sub[1])
	})

	out = mdEmRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdEmRe.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		return lipgloss.NewStyle().Italic(true).Render(sub[1])
	})

	out = mdLinkRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdLinkRe.FindStringSubmatch(m)
		if len(sub) < 3 {
			return m
		}
		return lipgloss.NewStyle().
			Foreground(r.theme.Accent).
			Underline(true).
			Render(fmt.Sprintf("%s (%s)", sub[2], sub[1]))
	})

	out = mdQuoteRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdQuoteRe.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		quoted := mdAnyTagRe.ReplaceAllString(strings.TrimSpace(sub[1]), "")
		return lipgloss.NewStyle().
			Foreground(r.theme.TextMuted).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(r.theme.Border).
			PaddingLeft(1).
			Render(quoted) + "\n"
	})

	out = mdListRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mdListRe.FindStringSubmatch(m)
		if len(sub) < 3 {
			return m
		}
		ordered := sub[1] == "ol"
		items := mdItemRe.FindAllStringSubmatch(sub[2], -1)
		var b strings.Builder
		for i, item := range items {
			if len(item) < 2 {
				continue
			}
			marker := "  • "
			if ordered {
				marker = fmt.Sprintf("  %d. ", i+1)
			}
			b.WriteString(lipgloss.NewStyle().Foreground(r.theme.Accent).Render(marker))
			b.WriteString(mdAnyTagRe.ReplaceAllString(item[1], ""))
			b.WriteString("\n")
		}
		return b.String()
	})

	out = strings.ReplaceAll(out, "<p>", "")
	out = strings.ReplaceAll(out, "</p>", "\n")
	out = strings.ReplaceAll(out, "<br>", "\n")
	out = strings.ReplaceAll(out, "<br/>", "\n")
	out = strings.ReplaceAll(out, "<br />", "\n")

	for i, block := range fenced {
		out = strings.ReplaceAll(out, fmt.Sprintf("{{fenced:%d}}", i), block)
	}

	out = mdAnyTagRe.ReplaceAllString(out, "")
	out = decodeEntities(out)
	out = mdBlankRunRe.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)

	if width > 4 {
		out = lipgloss.NewStyle().Width(width).Render(out)
	}
	return out
}

func (r *ReplyRenderer) highlight(code, lang string) string {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.codeStyle, it); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

var entityPairs = [...][2]string{
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", "\""},
	{"&#39;", "'"},
	{"&#x27;", "'"},
	{"&#x60;", "`"},
	{"&nbsp;", " "},
	{"&hellip;", "..."},
}

func decodeEntities(s string) string {
	for _, p := range entityPairs {
		s = strings.ReplaceAll(s, p[0], p[1])
	}
	return s
}
