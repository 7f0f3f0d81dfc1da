package prompts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

// Funcs are available to every task template.
var Funcs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
}

// Render executes tmpl with data.
func Render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// ExtractVariables lists the fields a template reads from its top-level data,
// sorted. Nested fields keep their path ("Book.Title"). Fields read inside
// range or with blocks belong to the element, not the data, and are left out
// unless reached through $. Text that does not parse yields nil.
func ExtractVariables(text string) []string {
	t, err := template.New("vars").Funcs(Funcs).Parse(text)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, tt := range t.Templates() {
		if tt.Tree != nil {
			walkNode(tt.Tree.Root, true, seen)
		}
	}
	if len(seen) == 0 {
		return nil
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// walkNode collects field references. top is false once dot has been rebound.
func walkNode(n parse.Node, top bool, seen map[string]bool) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walkNode(c, top, seen)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, top, seen)
	case *parse.IfNode:
		walkPipe(n.Pipe, top, seen)
		walkNode(n.List, top, seen)
		walkNode(n.ElseList, top, seen)
	case *parse.RangeNode:
		walkPipe(n.Pipe, top, seen)
		walkNode(n.List, false, seen)
		walkNode(n.ElseList, top, seen)
	case *parse.WithNode:
		walkPipe(n.Pipe, top, seen)
		walkNode(n.List, false, seen)
		walkNode(n.ElseList, top, seen)
	case *parse.TemplateNode:
		walkPipe(n.Pipe, top, seen)
	}
}

func walkPipe(p *parse.PipeNode, top bool, seen map[string]bool) {
	if p == nil {
		return
	}
	for _, cmd := range p.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if top {
					seen[strings.Join(a.Ident, ".")] = true
				}
			case *parse.VariableNode:
				if len(a.Ident) > 1 && a.Ident[0] == "$" {
					seen[strings.Join(a.Ident[1:], ".")] = true
				}
			case *parse.PipeNode:
				walkPipe(a, top, seen)
			}
		}
	}
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
