// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package render turns agent markdown replies into styled terminal
// output for the operator CLI (`clawline session show`) and the pairing
// review preview pane. It covers the structures agents actually emit:
// paragraphs, headings, lists, fenced code, blockquotes, and tables.
package render

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// The parser configuration never changes and a goldmark parser is safe
// to share; per-call state lives in the reader passed to Parse.
var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func parser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserInstance
}

// Markdown renders input as styled terminal text wrapped to width,
// using the default theme.
func Markdown(input string, width int) string {
	return MarkdownWithTheme(input, width, DefaultTheme)
}

// MarkdownWithTheme renders input as styled terminal text. Soft line
// breaks (single newlines inside paragraphs) become spaces so
// hard-wrapped source reflows at any terminal width; code blocks and
// other structural elements keep their formatting.
func MarkdownWithTheme(input string, width int, theme Theme) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := parser().Parser().Parse(text.NewReader(source))

	// Force the ANSI256 profile: this output is always for terminal
	// display, and auto-detection produces uncolored output when there
	// is no TTY (tests, piped CLI output). SetColorProfile is needed
	// because lipgloss re-detects from the environment otherwise.
	lip := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lip.SetColorProfile(termenv.ANSI256)

	w := &walker{source: source, theme: theme, width: width, lip: lip}
	ast.Walk(document, w.walk)
	return strings.TrimRight(w.output.String(), "\n")
}

// walker traverses a goldmark AST and accumulates styled terminal
// text. A direct ast.Walk fits better than goldmark's renderer
// interface because terminal output needs accumulate-then-wrap
// semantics: paragraph inline content collects in a buffer and is
// word-wrapped as a unit when the paragraph closes.
type walker struct {
	source []byte
	theme  Theme
	width  int
	lip    *lipgloss.Renderer

	output strings.Builder
	inline strings.Builder // flushed with word-wrap when a block closes

	// Prefix stack for nested containers (blockquotes, list bodies).
	prefixes    []prefixLevel
	prefix      string
	prefixWidth int

	// Replaces the prefix for the next emitted line only; used for
	// list bullets.
	pendingBullet string

	// Counters rather than booleans so nested emphasis balances.
	bold   int
	italic int
	strike int

	lists []listState

	trailingNewlines int
}

type prefixLevel struct {
	text  string
	width int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (w *walker) style() lipgloss.Style { return w.lip.NewStyle() }

// contentWidth is the width left after nesting prefixes, clamped so
// deeply nested content still wraps sanely.
func (w *walker) contentWidth() int {
	width := w.width - w.prefixWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (w *walker) pushPrefix(text string, visibleWidth int) {
	w.prefixes = append(w.prefixes, prefixLevel{text: text, width: visibleWidth})
	w.prefix += text
	w.prefixWidth += visibleWidth
}

func (w *walker) popPrefix() {
	if len(w.prefixes) == 0 {
		return
	}
	top := w.prefixes[len(w.prefixes)-1]
	w.prefixes = w.prefixes[:len(w.prefixes)-1]
	w.prefix = w.prefix[:len(w.prefix)-len(top.text)]
	w.prefixWidth -= top.width
}

func (w *walker) inTightList() bool {
	return len(w.lists) > 0 && w.lists[len(w.lists)-1].tight
}

func (w *walker) write(s string) {
	if s == "" {
		return
	}
	w.output.WriteString(s)

	trailing := 0
	allNewlines := true
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			trailing++
		} else {
			allNewlines = false
			break
		}
	}
	if allNewlines {
		w.trailingNewlines += trailing
	} else {
		w.trailingNewlines = trailing
	}
}

func (w *walker) ensureNewline() {
	if w.trailingNewlines < 1 {
		w.write("\n")
	}
}

func (w *walker) ensureBlankLine() {
	for w.trailingNewlines < 2 {
		w.write("\n")
	}
}

// linePrefix returns the prefix for the current line, consuming the
// pending bullet if one is set.
func (w *walker) linePrefix() string {
	if w.pendingBullet != "" {
		bullet := w.pendingBullet
		w.pendingBullet = ""
		return bullet
	}
	return w.prefix
}

// prefixed prepends the line prefix to every line of content; the
// first line takes the pending bullet when present.
func (w *walker) prefixed(content string) string {
	lines := strings.Split(content, "\n")
	var out strings.Builder
	for i, line := range lines {
		if i == 0 {
			out.WriteString(w.linePrefix())
		} else {
			out.WriteString(w.prefix)
		}
		out.WriteString(line)
		if i < len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return out.String()
}

// flushInline wraps the accumulated inline content to the current
// width and resets the buffer.
func (w *walker) flushInline() string {
	content := w.inline.String()
	w.inline.Reset()
	if content == "" {
		return ""
	}
	return w.prefixed(ansi.Wrap(content, w.contentWidth(), " ,.;-+|"))
}

func (w *walker) styledText(content string) string {
	style := w.style().Foreground(w.theme.Text)
	if w.bold > 0 {
		style = style.Bold(true)
	}
	if w.italic > 0 {
		style = style.Italic(true)
	}
	if w.strike > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// inlineContent collects a node's children into a string, saving and
// restoring the inline buffer and style state around the recursion.
func (w *walker) inlineContent(node ast.Node) string {
	savedInline := w.inline.String()
	savedBold, savedItalic, savedStrike := w.bold, w.italic, w.strike

	w.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, w.walk)
	}
	result := w.inline.String()

	w.inline.Reset()
	w.inline.WriteString(savedInline)
	w.bold, w.italic, w.strike = savedBold, savedItalic, savedStrike
	return result
}

func (w *walker) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindDocument:

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			w.inline.Reset()
		} else if flushed := w.flushInline(); flushed != "" {
			w.write(flushed)
			w.ensureNewline()
			if !w.inTightList() {
				w.ensureBlankLine()
			}
		}

	case ast.KindHeading:
		if entering {
			w.inline.Reset()
		} else {
			w.leaveHeading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			w.renderFence(node.(*ast.FencedCodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			w.renderCodeBlock(node.(*ast.CodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			w.pushPrefix("│ ", 2)
		} else {
			w.popPrefix()
			w.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			w.enterList(node.(*ast.List))
		} else {
			w.leaveList()
		}

	case ast.KindListItem:
		if entering {
			w.enterListItem()
		} else {
			w.leaveListItem()
		}

	case ast.KindThematicBreak:
		if entering {
			w.renderRule()
		}

	case ast.KindText:
		if entering {
			w.handleText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			w.inline.WriteString(w.styledText(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		w.handleEmphasis(node.(*ast.Emphasis), entering)

	case ast.KindCodeSpan:
		if entering {
			w.renderCodeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			w.renderLink(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(w.source))
			w.inline.WriteString(w.style().Foreground(w.theme.Faint).Render(url))
		}

	case extast.KindStrikethrough:
		if entering {
			w.strike++
		} else {
			w.strike--
		}

	case extast.KindTable:
		if entering {
			w.renderTable(node)
			return ast.WalkSkipChildren, nil
		}
	}

	return ast.WalkContinue, nil
}

func (w *walker) leaveHeading(heading *ast.Heading) {
	// Strip inline styling: headings replace the default text style
	// rather than compose with it.
	content := ansi.Strip(w.inline.String())
	w.inline.Reset()
	if content == "" {
		return
	}

	style := w.style().Bold(true)
	if heading.Level <= 2 {
		style = style.Foreground(w.theme.Heading)
	} else {
		style = style.Foreground(w.theme.Text)
	}

	wrapped := ansi.Wrap(style.Render(content), w.contentWidth(), " ,.;-+|")
	w.ensureBlankLine()
	w.write(w.prefixed(wrapped))
	w.ensureNewline()
	w.ensureBlankLine()
}

func (w *walker) blockText(lines *text.Segments) string {
	var out strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out.Write(seg.Value(w.source))
	}
	return out.String()
}

func (w *walker) renderFence(node *ast.FencedCodeBlock) {
	language := string(node.Language(w.source))
	code := w.blockText(node.Lines())

	highlighted := w.highlight(code, language)
	w.ensureBlankLine()
	for _, line := range strings.Split(strings.TrimRight(highlighted, "\n"), "\n") {
		w.write(w.linePrefix() + line)
		w.ensureNewline()
	}
	w.ensureBlankLine()
}

func (w *walker) renderCodeBlock(node *ast.CodeBlock) {
	faint := w.style().Foreground(w.theme.Faint)
	w.ensureBlankLine()
	code := strings.TrimRight(w.blockText(node.Lines()), "\n")
	for _, line := range strings.Split(code, "\n") {
		w.write(w.linePrefix() + faint.Render(line))
		w.ensureNewline()
	}
	w.ensureBlankLine()
}

// highlight syntax-highlights code with chroma, falling back to faint
// plain text for unknown languages.
func (w *walker) highlight(code, language string) string {
	if language == "" {
		return w.style().Foreground(w.theme.Faint).Render(code)
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, "terminal256", "monokai"); err != nil {
		return w.style().Foreground(w.theme.Faint).Render(code)
	}
	return buffer.String()
}

func (w *walker) enterList(list *ast.List) {
	start := 0
	if list.IsOrdered() {
		start = list.Start
	}
	w.lists = append(w.lists, listState{ordered: list.IsOrdered(), counter: start, tight: list.IsTight})
}

func (w *walker) leaveList() {
	if len(w.lists) > 0 {
		w.lists = w.lists[:len(w.lists)-1]
	}
	if !w.inTightList() {
		w.ensureBlankLine()
	}
}

func (w *walker) enterListItem() {
	if len(w.lists) == 0 {
		return
	}
	top := &w.lists[len(w.lists)-1]

	var bullet string
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		top.counter++
	} else {
		bullet = "- "
	}

	bulletWidth := len(bullet) // ASCII, so byte length == visual width

	// The pending bullet includes the current prefix so it replaces
	// the whole prefix for the item's first line.
	w.pendingBullet = w.prefix + bullet
	w.pushPrefix(strings.Repeat(" ", bulletWidth), bulletWidth)
}

func (w *walker) leaveListItem() {
	w.popPrefix()
	if w.inTightList() {
		w.ensureNewline()
	} else {
		w.ensureBlankLine()
	}
}

func (w *walker) renderRule() {
	rule := strings.Repeat("─", w.contentWidth())
	w.ensureBlankLine()
	w.write(w.prefixed(w.style().Foreground(w.theme.Border).Render(rule)))
	w.ensureNewline()
	w.ensureBlankLine()
}

func (w *walker) handleText(node *ast.Text) {
	w.inline.WriteString(w.styledText(string(node.Segment.Value(w.source))))
	if node.SoftLineBreak() {
		// Soft breaks become spaces so hard-wrapped source reflows at
		// any terminal width.
		w.inline.WriteString(" ")
	}
	if node.HardLineBreak() {
		w.inline.WriteString("\n")
	}
}

func (w *walker) handleEmphasis(node *ast.Emphasis, entering bool) {
	counter := &w.italic
	if node.Level >= 2 {
		counter = &w.bold
	}
	if entering {
		*counter++
	} else {
		*counter--
	}
}

func (w *walker) renderCodeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Text:
			code.Write(n.Segment.Value(w.source))
		case *ast.String:
			code.Write(n.Value)
		}
	}
	w.inline.WriteString(w.style().Foreground(w.theme.Faint).Render(code.String()))
}

func (w *walker) renderLink(node *ast.Link) {
	// inlineContent already applies the current inline styling to the
	// link text.
	w.inline.WriteString(w.inlineContent(node))
	if url := string(node.Destination); url != "" {
		w.inline.WriteString(" " + w.style().Foreground(w.theme.Faint).Render("("+url+")"))
	}
}

func (w *walker) renderTable(node ast.Node) {
	table := node.(*extast.Table)
	alignments := table.Alignments

	var header []string
	var rows [][]string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			header = w.tableRow(child)
		case extast.KindTableRow:
			rows = append(rows, w.tableRow(child))
		}
	}

	columns := len(header)
	if columns == 0 && len(rows) > 0 {
		columns = len(rows[0])
	}
	if columns == 0 {
		return
	}

	widths := make([]int, columns)
	measure := func(cells []string) {
		for i, cell := range cells {
			if i < columns {
				if width := lipgloss.Width(cell); width > widths[i] {
					widths[i] = width
				}
			}
		}
	}
	measure(header)
	for _, row := range rows {
		measure(row)
	}

	// Shrink proportionally when the table exceeds the available
	// width, with a 3-column floor.
	const separator = "  "
	total := len(separator) * (columns - 1)
	for _, width := range widths {
		total += width
	}
	if available := w.contentWidth(); total > available {
		usable := available - len(separator)*(columns-1)
		if usable < columns*3 {
			usable = columns * 3
		}
		for i := range widths {
			widths[i] = (widths[i] * usable) / total
			if widths[i] < 3 {
				widths[i] = 3
			}
		}
	}

	w.ensureBlankLine()

	if len(header) > 0 {
		bold := w.style().Bold(true).Foreground(w.theme.Text)
		w.write(w.linePrefix() + w.formatRow(header, widths, alignments, bold))
		w.ensureNewline()

		var parts []string
		for _, width := range widths {
			parts = append(parts, strings.Repeat("─", width))
		}
		border := w.style().Foreground(w.theme.Border)
		w.write(w.prefix + border.Render(strings.Join(parts, separator)))
		w.ensureNewline()
	}

	for _, row := range rows {
		w.write(w.prefix + w.formatRow(row, widths, alignments, w.style()))
		w.ensureNewline()
	}

	w.ensureBlankLine()
}

func (w *walker) tableRow(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, w.inlineContent(cell))
		}
	}
	return cells
}

func (w *walker) formatRow(cells []string, widths []int, alignments []extast.Alignment, base lipgloss.Style) string {
	const separator = "  "
	var parts []string
	for i, width := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}

		visible := lipgloss.Width(cell)
		if visible > width {
			cell = ansi.Truncate(cell, width, "…")
			visible = lipgloss.Width(cell)
		}
		padding := width - visible
		if padding < 0 {
			padding = 0
		}

		var alignment extast.Alignment
		if i < len(alignments) {
			alignment = alignments[i]
		}
		switch alignment {
		case extast.AlignRight:
			cell = strings.Repeat(" ", padding) + cell
		case extast.AlignCenter:
			left := padding / 2
			cell = strings.Repeat(" ", left) + cell + strings.Repeat(" ", padding-left)
		default:
			cell += strings.Repeat(" ", padding)
		}
		parts = append(parts, cell)
	}
	return base.Render(strings.Join(parts, separator))
}
