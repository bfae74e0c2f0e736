package parse

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/soochol/ingest/internal/ingest"
)

// recordElementNames are tried in order before falling back to whichever
// element repeats under a common parent.
var recordElementNames = []string{"record", "item", "row", "entry", "data", "result", "person", "case", "report"}

const textKey = "_text"

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

// parseXML reads loosely structured markup. It finds the repeating record
// element, converts each occurrence into a record (attributes merged in,
// nested elements recursed, repeated siblings collected into lists) and
// infers scalar types for leaf text.
func parseXML(content []byte, opts Options) (*Table, error) {
	root, err := buildTree(content)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return &Table{}, nil
	}

	name := opts.RecordElement
	if name == "" {
		name = detectRecordElement(root)
	}

	var matches []*xmlNode
	if name != "" {
		collect(root, name, &matches)
	}
	if len(matches) == 0 {
		matches = []*xmlNode{root}
	}

	rows := make([]ingest.Record, 0, len(matches))
	for _, n := range matches {
		v := convert(n)
		if m, ok := v.(map[string]any); ok {
			rows = append(rows, ingest.Record(m))
		} else {
			rows = append(rows, ingest.Record{n.name: v})
		}
	}
	rows = window(rows, opts)
	return &Table{Fields: collectFields(rows), Rows: rows}, nil
}

func buildTree(content []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var root *xmlNode
	var stack []*xmlNode
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if root != nil {
				break
			}
			return nil, fmt.Errorf("xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root == nil {
					root = n
				}
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	return root, nil
}

func detectRecordElement(root *xmlNode) string {
	counts := map[string]int{}
	var order []string
	var walk func(n *xmlNode)
	walk = func(n *xmlNode) {
		for _, c := range n.children {
			if counts[c.name] == 0 {
				order = append(order, c.name)
			}
			counts[c.name]++
			walk(c)
		}
	}
	walk(root)

	if name := firstCandidate(order, counts, 2); name != "" {
		return name
	}

	// Otherwise take the shallowest element that repeats under one parent.
	queue := []*xmlNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		siblings := map[string]int{}
		for _, c := range n.children {
			siblings[c.name]++
		}
		for _, c := range n.children {
			if siblings[c.name] > 1 && len(c.children) > 0 {
				return c.name
			}
		}
		for _, c := range n.children {
			if siblings[c.name] > 1 {
				return c.name
			}
		}
		queue = append(queue, n.children...)
	}
	return firstCandidate(order, counts, 1)
}

func firstCandidate(order []string, counts map[string]int, atLeast int) string {
	for _, candidate := range recordElementNames {
		for _, name := range order {
			if strings.EqualFold(name, candidate) && counts[name] >= atLeast {
				return name
			}
		}
	}
	return ""
}

// collect appends the outermost elements named name. Matching elements are
// not searched for nested matches.
func collect(n *xmlNode, name string, out *[]*xmlNode) {
	for _, c := range n.children {
		if c.name == name {
			*out = append(*out, c)
			continue
		}
		collect(c, name, out)
	}
}

func convert(n *xmlNode) any {
	text := strings.TrimSpace(n.text.String())
	if len(n.children) == 0 && len(n.attrs) == 0 {
		return InferScalar(text)
	}

	m := make(map[string]any, len(n.attrs)+len(n.children))
	for _, a := range n.attrs {
		m[a.Name.Local] = InferScalar(a.Value)
	}
	for _, c := range n.children {
		v := convert(c)
		existing, ok := m[c.name]
		if !ok {
			m[c.name] = v
			continue
		}
		if list, isList := existing.([]any); isList {
			m[c.name] = append(list, v)
		} else {
			m[c.name] = []any{existing, v}
		}
	}
	if text != "" {
		m[textKey] = InferScalar(text)
	}
	return m
}
