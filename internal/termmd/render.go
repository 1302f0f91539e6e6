// Package termmd renders the small markdown dialect the operator console
// emits (headings, bullet lists, emphasis, code spans) as width-aware ANSI
// terminal text, walking goldmark's AST instead of printing raw markdown.
package termmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	"golang.org/x/term"
)

const (
	ansiBold      = "\x1b[1m"
	ansiUnderline = "\x1b[4m"
	ansiDim       = "\x1b[2m"
	ansiReset     = "\x1b[0m"
)

// termRenderer is a goldmark NodeRenderer covering the node kinds the
// console's help output actually produces.
type termRenderer struct {
	width  int
	indent int
}

// RenderMarkdown converts markdown to ANSI terminal text sized to the
// current terminal (80 columns when stdout is not a terminal).
func RenderMarkdown(md string) (string, error) {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	tr := &termRenderer{width: width}

	engine := goldmark.New(goldmark.WithRenderer(
		renderer.NewRenderer(renderer.WithNodeRenderers(util.Prioritized(tr, 1000))),
	))
	var buf bytes.Buffer
	if err := engine.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *termRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindDocument, r.renderNothing)
	reg.Register(ast.KindHeading, r.renderHeading)
	reg.Register(ast.KindParagraph, r.renderParagraph)
	reg.Register(ast.KindTextBlock, r.renderTextBlock)
	reg.Register(ast.KindText, r.renderText)
	reg.Register(ast.KindEmphasis, r.renderEmphasis)
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
	reg.Register(ast.KindFencedCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindList, r.renderList)
	reg.Register(ast.KindListItem, r.renderListItem)
	reg.Register(ast.KindLink, r.renderLink)
}

func (r *termRenderer) renderNothing(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderHeading(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	h := node.(*ast.Heading)
	if entering {
		w.WriteString("\n")
		if h.Level <= 2 {
			w.WriteString(ansiBold + ansiUnderline)
		} else {
			w.WriteString(ansiBold)
		}
	} else {
		w.WriteString(ansiReset + "\n\n")
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderParagraph(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		if r.indent > 0 {
			w.WriteString(strings.Repeat(" ", r.indent))
		}
	} else {
		w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderTextBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderText(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	t := node.(*ast.Text)
	content := string(t.Segment.Value(source))
	if t.SoftLineBreak() {
		content = strings.TrimRight(content, " \t\n") + " "
	}
	w.WriteString(content)
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderEmphasis(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	e := node.(*ast.Emphasis)
	if entering {
		if e.Level >= 2 {
			w.WriteString(ansiBold)
		} else {
			w.WriteString(ansiUnderline)
		}
	} else {
		w.WriteString(ansiReset)
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderCodeSpan(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		w.WriteString(ansiDim)
	} else {
		w.WriteString(ansiReset)
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	w.WriteString("\n")
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		fmt.Fprintf(w, "    %s", seg.Value(source))
	}
	w.WriteString("\n")
	return ast.WalkSkipChildren, nil
}

func (r *termRenderer) renderList(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		r.indent += 2
	} else {
		r.indent -= 2
		w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderListItem(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		fmt.Fprintf(w, "%s- ", strings.Repeat(" ", r.indent-2))
	} else {
		w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	link := node.(*ast.Link)
	if entering {
		w.WriteString(ansiUnderline)
	} else {
		fmt.Fprintf(w, "%s (%s)", ansiReset, link.Destination)
	}
	return ast.WalkContinue, nil
}
