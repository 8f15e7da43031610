// Package inline pulls data-URI images out of HTML bodies so they can be stored as
// embedded attachments and referenced by URL.
package inline

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	attachmentsdomain "github.com/Adoubf/cloud-mail/internal/attachments/domain"
	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

const maxWidthRule = "max-width: 100%;"

var styleWidth = regexp.MustCompile(`(?i)(^|[\s;])width\s*:`)

type Extractor struct {
	// PublicBaseURL prefixes rewritten src attributes: {PublicBaseURL}/{key}.
	PublicBaseURL string
	KeyPrefix     string
	Now           func() time.Time
}

type Result struct {
	HTML      string
	Extracted []attachmentsdomain.Descriptor
}

// Extract rewrites every <img> whose src is an image data-URI to point at the stored
// copy and returns the decoded images. Malformed data-URIs are left as they are.
// Images with no width attribute and no width in their style are capped to the
// container width.
func (e *Extractor) Extract(content string) (Result, error) {
	const op = "attachments.inline.Extract"

	if isDocument(content) {
		doc, err := html.Parse(strings.NewReader(content))
		if err != nil {
			return Result{}, fmt.Errorf("%s: parse document: %w", op, err)
		}

		var res Result
		e.walk(doc, &res)

		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err != nil {
			return Result{}, fmt.Errorf("%s: render document: %w", op, err)
		}
		res.HTML = buf.String()
		return res, nil
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(content), body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: parse fragment: %w", op, err)
	}

	var res Result
	var buf bytes.Buffer
	for _, n := range nodes {
		e.walk(n, &res)
		if err := html.Render(&buf, n); err != nil {
			return Result{}, fmt.Errorf("%s: render fragment: %w", op, err)
		}
	}
	res.HTML = buf.String()
	return res, nil
}

func (e *Extractor) walk(n *html.Node, res *Result) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		e.rewriteImage(n, res)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c, res)
	}
}

func (e *Extractor) rewriteImage(img *html.Node, res *Result) {
	if src, ok := attr(img, "src"); ok && strings.HasPrefix(strings.ToLower(strings.TrimSpace(src)), "data:image") {
		if mimeType, data, err := attachmentsdomain.ParseDataURI(strings.TrimSpace(src)); err == nil {
			_, subtype, _ := strings.Cut(mimeType, "/")
			filename := "image_" + strconv.FormatInt(e.now().UnixMilli(), 10) + "." + subtype

			d := attachmentsdomain.NewDescriptor(e.keyPrefix(), filename, mimeType, data)
			res.Extracted = append(res.Extracted, d)
			setAttr(img, "src", e.url(d.Key))
		}
	}

	if _, ok := attr(img, "width"); ok {
		return
	}
	style, _ := attr(img, "style")
	if styleWidth.MatchString(style) {
		return
	}

	style = strings.TrimSuffix(strings.TrimSpace(style), ";")
	if style != "" {
		style += "; "
	}
	setAttr(img, "style", style+maxWidthRule)
}

func (e *Extractor) url(key string) string {
	if u, ok := objectstore.JoinURL(e.PublicBaseURL, key); ok {
		return u
	}
	return "/" + objectstore.EncodeKey(key)
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Extractor) keyPrefix() string {
	if e.KeyPrefix == "" {
		return attachmentsdomain.DefaultKeyPrefix
	}
	return e.KeyPrefix
}

func isDocument(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
