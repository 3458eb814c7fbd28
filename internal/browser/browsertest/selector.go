package browsertest

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// toXPath translates the subset of CSS the fake understands:
// "#id", "tag", "tag[attr]" and "tag[attr='value']".
func toXPath(sel string) string {
	sel = strings.TrimSpace(sel)
	if strings.HasPrefix(sel, "#") {
		return fmt.Sprintf(`//*[@id='%s']`, sel[1:])
	}
	tag, pred := sel, ""
	if i := strings.IndexByte(sel, '['); i >= 0 && strings.HasSuffix(sel, "]") {
		tag = sel[:i]
		kv := strings.SplitN(sel[i+1:len(sel)-1], "=", 2)
		if len(kv) == 2 {
			pred = fmt.Sprintf(`[@%s='%s']`, kv[0], strings.Trim(kv[1], `'"`))
		} else {
			pred = fmt.Sprintf(`[@%s]`, kv[0])
		}
	}
	if tag == "" {
		tag = "*"
	}
	return "//" + tag + pred
}

// findFirst returns the first node matching selector, or nil when none
// does or the selector cannot be translated.
func findFirst(root *html.Node, selector string) *html.Node {
	n, err := htmlquery.Query(root, toXPath(selector))
	if err != nil {
		return nil
	}
	return n
}

func textOf(n *html.Node) string {
	return strings.TrimSpace(htmlquery.InnerText(n))
}
