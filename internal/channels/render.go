package channels

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainText renders model markdown as plain chat text. Emphasis markers are
// dropped, list items become bullets and links keep their target.
func PlainText(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var b strings.Builder
	// ordered tracks the next number for each open ordered list.
	var ordered []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
		case *ast.Link:
			if !entering && len(node.Destination) > 0 {
				b.WriteString(" (" + string(node.Destination) + ")")
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteByte('\n')
				return ast.WalkSkipChildren, nil
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.List:
			if node.IsOrdered() {
				if entering {
					ordered = append(ordered, node.Start)
				} else {
					ordered = ordered[:len(ordered)-1]
				}
			}
			if _, nested := n.Parent().(*ast.ListItem); !entering && !nested {
				b.WriteByte('\n')
			}
		case *ast.ListItem:
			if entering {
				list, _ := node.Parent().(*ast.List)
				if list != nil && list.IsOrdered() && len(ordered) > 0 {
					top := len(ordered) - 1
					b.WriteString(strconv.Itoa(ordered[top]) + ". ")
					ordered[top]++
				} else {
					b.WriteString("• ")
				}
			} else {
				ensureNewline(&b)
			}
		case *ast.ThematicBreak:
			if entering {
				b.WriteString("———\n")
			}
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading, *ast.Blockquote:
			if !entering {
				ensureNewline(&b)
				if _, inItem := n.Parent().(*ast.ListItem); !inItem {
					b.WriteByte('\n')
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func ensureNewline(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}
