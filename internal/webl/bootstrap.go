package webl

import (
	"bytes"
	"strings"

	"github.com/ije/gox/utils"
	"golang.org/x/net/html"
)

// bootstrapTemplate is the fixed page a browser padawan is pointed at: one
// placeholder <script> tag the tokenizer below rewrites in place, the same
// "it's a module script" shape esm-dev-esm.sh__dev_server.go rewrites for
// its own bundler client.
const bootstrapTemplate = `<!doctype html>
<html><head><meta charset="utf-8"></head>
<body><script id="replete-padawan" type="module" src="about:blank"></script></body>
</html>
`

// Bootstrap produces the HTML page a new browser padawan's iframe/popup
// loads (spec.md 4.6: "spawns an iframe/popup/worker bearing a generated
// creation script"). entryURL is the C5-served creation script location;
// it is rewritten onto the template's placeholder script tag's src,
// carrying secret as a query parameter so the page can open its WebSocket
// back to Bridge.ServeHTTP. Grounded on
// esm-dev-esm.sh__dev_server.go's tokenizer-rewrite-one-tag-then-copy-rest
// loop over golang.org/x/net/html.
func Bootstrap(entryURL, secret string) string {
	bareURL, _ := utils.SplitByFirstByte(entryURL, '?')
	src := bareURL + "?secret=" + secret

	tokenizer := html.NewTokenizer(strings.NewReader(bootstrapTemplate))
	var out bytes.Buffer

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			tagName, hasAttr := tokenizer.TagName()
			if string(tagName) == "script" {
				attrs := map[string]string{}
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = tokenizer.TagAttr()
					attrs[string(key)] = string(val)
				}
				if attrs["id"] == "replete-padawan" {
					out.WriteString(`<script type="module" src="` + html.EscapeString(src) + `">`)
					if tt == html.SelfClosingTagToken {
						out.WriteString("</script>")
					}
					continue
				}
			}
		}
		out.Write(tokenizer.Raw())
	}
	return out.String()
}
