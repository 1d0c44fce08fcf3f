package mail

import (
	"encoding/base64"
	"strings"

	"golang.org/x/net/html"
	"google.golang.org/api/gmail/v1"
)

// extractBody returns the message text: the first text/plain part, else
// the first text/html part converted to text, else the top-level body.
func extractBody(p *gmail.MessagePart) string {
	if part := findPart(p, "text/plain"); part != nil {
		return decodeData(part.Body)
	}
	if part := findPart(p, "text/html"); part != nil {
		return htmlToText(decodeData(part.Body))
	}
	return decodeData(p.Body)
}

// findPart searches the part tree depth-first for the first part of
// mimeType that carries data.
func findPart(p *gmail.MessagePart, mimeType string) *gmail.MessagePart {
	if p == nil {
		return nil
	}
	if len(p.Parts) == 0 {
		if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
			return p
		}
		return nil
	}
	for _, child := range p.Parts {
		if found := findPart(child, mimeType); found != nil {
			return found
		}
	}
	return nil
}

func decodeData(b *gmail.MessagePartBody) string {
	if b == nil || b.Data == "" {
		return ""
	}
	data, err := base64.URLEncoding.DecodeString(b.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(b.Data, "="))
		if err != nil {
			return ""
		}
	}
	return strings.ToValidUTF8(string(data), "")
}

// htmlToText flattens an HTML document to its visible text, one block per
// line.
func htmlToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				flush()
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "li", "tr":
				flush()
			}
		}
	}
	walk(doc)
	flush()
	return strings.Join(lines, "\n")
}
