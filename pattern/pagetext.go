package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"

	"github.com/versolabs/noema/graph"
)

var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
)

// maxPageTextLen bounds the text handed to the embedder.
const maxPageTextLen = 4000

// PageText extracts the readable main content of a page as markdown, used
// as the embedding text when a pattern is stored. Extraction failures
// degrade to a tag-stripped excerpt rather than an error.
func PageText(pageURL, pageHTML string) string {
	cleaned := styleRe.ReplaceAllString(scriptRe.ReplaceAllString(pageHTML, ""), "")

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(cleaned), parsedURL)
	content := cleaned
	if err == nil && article.Content != "" {
		content = article.Content
	}

	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(content)
	if err != nil {
		text = stripTags(content)
	}
	text = strings.TrimSpace(excessiveLinesRe.ReplaceAllString(text, "\n\n"))
	if len(text) > maxPageTextLen {
		text = text[:maxPageTextLen]
	}
	return text
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return tagRe.ReplaceAllString(s, " ")
}

// Learn fingerprints a page and stores a new pattern concept for it. The
// embedding text combines the pattern name with the page's readable
// content.
func (e *Engine) Learn(ctx context.Context, name, pageURL, pageHTML string, data *Data) (string, error) {
	if data == nil {
		data = &Data{}
	}
	data.URL = pageURL
	data.Fingerprint = NewFingerprint(pageURL, pageHTML)

	concept := graph.NewConcept(graph.KindPattern, name)
	concept.SetProp(graph.KeySource, graph.SourcePatternOrigin)
	concept.SetProp(graph.KeyPatternData, data)
	if data.FormType != "" {
		concept.SetProp(graph.KeyType, data.FormType)
	}
	if e.embed != nil {
		text := name + "\n" + PageText(pageURL, pageHTML)
		if vec, err := e.embed(text); err == nil {
			concept.Embedding = vec
		} else {
			e.logger.Warn("pattern embedding failed, storing without",
				slog.String("name", name), slog.String("error", err.Error()))
		}
	}

	res := e.store.Upsert(ctx, concept, graph.NewProvenance("tool", data.Confidence))
	if !res.OK() {
		return "", fmt.Errorf("store pattern: %s", res.Error)
	}
	return concept.UUID, nil
}
