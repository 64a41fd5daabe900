package notify

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"linktracker/internal/domain"
)

// Describe renders a snapshot as `key: value` lines for the notification
// text. The preview field is source HTML and is reduced to plain text.
func Describe(snapshot domain.ActivitySnapshot) string {
	var b strings.Builder

	appendLine(&b, "title", snapshot.Title)
	appendLine(&b, "user", snapshot.Author)
	appendLine(&b, "date", snapshot.Marker)
	appendLine(&b, "preview", htmlToText(snapshot.Preview))

	return b.String()
}

func appendLine(b *strings.Builder, key string, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	fmt.Fprintf(b, "%s: %s\n", key, value)
}

func htmlToText(html string) string {
	if !strings.Contains(html, "<") {
		return html
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	return doc.Text()
}
