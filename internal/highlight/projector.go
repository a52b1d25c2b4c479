// Package highlight marks page excerpts inside a parsed HTML document and
// removes those marks again, per entity.
package highlight

import (
	"errors"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultNGram = 5
	MarkClass    = "doppelcheck-mark"
	EntityAttr   = "data-doppelcheck-entity"
)

var ErrNoDocument = errors.New("no document to highlight")

// skipped elements never contribute visible text
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Template: true,
}

// Projector projects excerpts onto one document. Safe for concurrent use.
type Projector struct {
	mu    sync.Mutex
	root  *html.Node
	n     int
	marks map[int][]*html.Node
}

// NewProjector creates a projector over root using n-word patterns
func NewProjector(root *html.Node, n int) *Projector {
	if n <= 0 {
		n = DefaultNGram
	}
	return &Projector{
		root:  root,
		n:     n,
		marks: make(map[int][]*html.Node),
	}
}

// Patterns splits text into overlapping n-word sequences and compiles each
// into a regexp that tolerates any whitespace between the words. Text
// shorter than n words yields a single pattern for the whole text.
func Patterns(text string, n int) []*regexp.Regexp {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if n <= 0 {
		n = DefaultNGram
	}
	if len(words) < n {
		return []*regexp.Regexp{compile(words)}
	}

	seen := make(map[string]bool)
	var out []*regexp.Regexp
	for i := 0; i+n <= len(words); i++ {
		re := compile(words[i : i+n])
		if seen[re.String()] {
			continue
		}
		seen[re.String()] = true
		out = append(out, re)
	}
	return out
}

func compile(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(strings.Join(quoted, `\s+`))
}

// span is one text node and its offsets in the concatenated visible text
type span struct {
	node       *html.Node
	start, end int
}

type interval struct {
	start, end int
}

// Highlight wraps every occurrence of the excerpt's n-grams in mark
// elements tagged with entityID. Matches may cross element boundaries.
// It returns the number of marks inserted.
func (p *Projector) Highlight(excerpt string, entityID int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.root == nil {
		return 0, ErrNoDocument
	}
	patterns := Patterns(excerpt, p.n)
	if len(patterns) == 0 {
		return 0, nil
	}

	spans, text := visibleText(p.root)
	var found []interval
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			found = append(found, interval{loc[0], loc[1]})
		}
	}
	found = merge(found)
	if len(found) == 0 {
		return 0, nil
	}

	inserted := 0
	for _, sp := range spans {
		if insideMark(sp.node, entityID) {
			continue
		}
		local := clip(found, sp)
		if len(local) == 0 {
			continue
		}
		marks := p.wrap(sp.node, local, entityID)
		p.marks[entityID] = append(p.marks[entityID], marks...)
		inserted += len(marks)
	}
	return inserted, nil
}

// RemoveHighlight unwraps the marks of entityID only and returns how many
// were removed. Marks no longer attached to the document are skipped.
func (p *Projector) RemoveHighlight(entityID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, mark := range p.marks[entityID] {
		if !p.attached(mark) {
			continue
		}
		parent := mark.Parent
		for c := mark.FirstChild; c != nil; {
			next := c.NextSibling
			mark.RemoveChild(c)
			parent.InsertBefore(c, mark)
			c = next
		}
		parent.RemoveChild(mark)
		normalize(parent)
		removed++
	}
	delete(p.marks, entityID)
	return removed
}

// Marks returns the number of live marks of entityID
func (p *Projector) Marks(entityID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, m := range p.marks[entityID] {
		if p.attached(m) {
			n++
		}
	}
	return n
}

// MarkedText returns the text inside the live marks of entityID, in document order
func (p *Projector) MarkedText(entityID int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, m := range p.marks[entityID] {
		if p.attached(m) {
			out = append(out, textOf(m))
		}
	}
	return out
}

// Text returns the concatenated visible text of the document
func (p *Projector) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root == nil {
		return ""
	}
	_, text := visibleText(p.root)
	return text
}

// Render writes the annotated document
func (p *Projector) Render(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root == nil {
		return ErrNoDocument
	}
	return html.Render(w, p.root)
}

func (p *Projector) attached(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == p.root {
			return true
		}
	}
	return false
}

// wrap splits node around the given local intervals and wraps each piece
func (p *Projector) wrap(node *html.Node, local []interval, entityID int) []*html.Node {
	parent := node.Parent
	if parent == nil {
		return nil
	}

	id := strconv.Itoa(entityID)
	text := node.Data
	pos := 0
	var marks []*html.Node
	for _, iv := range local {
		if iv.start > pos {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[pos:iv.start]}, node)
		}
		mark := &html.Node{
			Type:     html.ElementNode,
			Data:     "mark",
			DataAtom: atom.Mark,
			Attr: []html.Attribute{
				{Key: "class", Val: MarkClass},
				{Key: EntityAttr, Val: id},
			},
		}
		mark.AppendChild(&html.Node{Type: html.TextNode, Data: text[iv.start:iv.end]})
		parent.InsertBefore(mark, node)
		marks = append(marks, mark)
		pos = iv.end
	}
	if pos < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[pos:]}, node)
	}
	parent.RemoveChild(node)
	return marks
}

func visibleText(root *html.Node) ([]span, string) {
	var (
		spans []span
		b     strings.Builder
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			start := b.Len()
			b.WriteString(n.Data)
			spans = append(spans, span{node: n, start: start, end: b.Len()})
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return spans, b.String()
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func insideMark(n *html.Node, entityID int) bool {
	id := strconv.Itoa(entityID)
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.DataAtom == atom.Mark && attr(cur, EntityAttr) == id {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// merge sorts and joins overlapping or touching intervals
func merge(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool { return in[i].start < in[j].start })
	out := []interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if iv.start <= last.end {
			if iv.end > last.end {
				last.end = iv.end
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// clip intersects merged intervals with one span and makes them span-local.
// Whitespace-only pieces are dropped.
func clip(found []interval, sp span) []interval {
	var out []interval
	for _, iv := range found {
		if iv.end <= sp.start || iv.start >= sp.end {
			continue
		}
		s := max(iv.start, sp.start) - sp.start
		e := min(iv.end, sp.end) - sp.start
		if strings.TrimSpace(sp.node.Data[s:e]) == "" {
			continue
		}
		out = append(out, interval{s, e})
	}
	return out
}

// normalize joins adjacent text nodes left behind by unwrapping
func normalize(parent *html.Node) {
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			parent.RemoveChild(next)
			continue
		}
		c = next
	}
}
