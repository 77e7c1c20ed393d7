package fakebrowser

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/liuxd6825/k6browser/protocol"
)

// layoutRowHeight is the height given to every element without an explicit
// data-box, laid out one per row in document order.
const layoutRowHeight = 20

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attr(n, name)
	return ok
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func setTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func inputType(n *html.Node) string {
	if n.Data != "input" {
		return ""
	}
	t, _ := attr(n, "type")
	if t == "" {
		return "text"
	}
	return strings.ToLower(t)
}

func isCheckable(n *html.Node) bool {
	t := inputType(n)
	return t == "checkbox" || t == "radio"
}

func isEditable(n *html.Node) bool {
	if hasAttr(n, "readonly") || hasAttr(n, "disabled") {
		return false
	}
	if v, ok := attr(n, "contenteditable"); ok && v != "false" {
		return true
	}
	switch n.Data {
	case "textarea":
		return true
	case "input":
		switch inputType(n) {
		case "checkbox", "radio", "button", "submit", "reset", "image", "file", "hidden":
			return false
		}
		return true
	}
	return false
}

// hiddenByMarkup reports whether n or one of its ancestors is not rendered.
func hiddenByMarkup(n *html.Node) bool {
	for el := n; el != nil && el.Type == html.ElementNode; el = el.Parent {
		switch el.Data {
		case "head", "script", "style", "title", "meta", "link", "template":
			return true
		}
		if hasAttr(el, "hidden") || inputType(el) == "hidden" {
			return true
		}
		style, _ := attr(el, "style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func implicitRole(n *html.Node) string {
	if r, ok := attr(n, "role"); ok {
		return r
	}
	switch n.Data {
	case "button":
		return "button"
	case "a":
		if hasAttr(n, "href") {
			return "link"
		}
	case "input":
		switch inputType(n) {
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "button", "submit", "reset", "image":
			return "button"
		case "hidden":
			return ""
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		return "combobox"
	case "option":
		return "option"
	case "img":
		return "img"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "ul", "ol":
		return "list"
	case "li":
		return "listitem"
	case "iframe":
		return "iframe"
	}
	return ""
}

func accessibleName(n *html.Node) string {
	if v, ok := attr(n, "aria-label"); ok {
		return normalizeSpace(v)
	}
	switch n.Data {
	case "img":
		v, _ := attr(n, "alt")
		return normalizeSpace(v)
	case "input":
		switch inputType(n) {
		case "button", "submit", "reset":
			v, _ := attr(n, "value")
			return normalizeSpace(v)
		}
		v, _ := attr(n, "placeholder")
		return normalizeSpace(v)
	}
	return normalizeSpace(textContent(n))
}

func nodeValue(n *html.Node) string {
	switch n.Data {
	case "textarea":
		return textContent(n)
	case "select":
		for _, opt := range options(n) {
			if hasAttr(opt, "selected") {
				return optionValue(opt)
			}
		}
		if opts := options(n); len(opts) > 0 {
			return optionValue(opts[0])
		}
		return ""
	}
	if v, ok := attr(n, "value"); ok {
		return v
	}
	if isEditable(n) && n.Data != "input" {
		return textContent(n)
	}
	return ""
}

func options(sel *html.Node) []*html.Node {
	var opts []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "option" {
				opts = append(opts, c)
				continue
			}
			walk(c)
		}
	}
	walk(sel)
	return opts
}

func optionValue(opt *html.Node) string {
	if v, ok := attr(opt, "value"); ok {
		return v
	}
	return normalizeSpace(textContent(opt))
}

func parseBox(s string) (*protocol.Rect, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, false
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		v[i] = f
	}
	return &protocol.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, true
}

func isAncestor(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
