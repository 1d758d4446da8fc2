package source

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractText returns the whitespace-collapsed text content of n.
func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			buf.WriteString(node.Data)
			buf.WriteByte(' ')
			return
		}
		if node.Type == html.ElementNode && (node.DataAtom == atom.Script || node.DataAtom == atom.Style) {
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func getAttribute(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func findAll(n *html.Node, predicate func(*html.Node) bool) []*html.Node {
	var results []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if predicate(node) {
			results = append(results, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return results
}

func findFirst(n *html.Node, predicate func(*html.Node) bool) *html.Node {
	var result *html.Node

	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		if predicate(node) {
			result = node
			return true
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}

	walk(n)
	return result
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	}
}

// tableRows returns the rows that belong to table itself, skipping nested tables.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				continue
			case atom.Tr:
				rows = append(rows, c)
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

// rowCells returns the th/td cells of a row and whether any was a th.
func rowCells(row *html.Node) ([]string, bool) {
	var cells []string
	header := false
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Th:
			header = true
			cells = append(cells, extractText(c))
		case atom.Td:
			cells = append(cells, extractText(c))
		}
	}
	return cells, header
}

// tableRecords flattens every data table in doc into field maps.
// Each cell is stored under its header label (when the table has one) and
// under its positional name col_N. Tables with a single column and no header
// are treated as layout and skipped.
func tableRecords(doc *html.Node) []map[string]any {
	var records []map[string]any

	for _, table := range findAll(doc, isElement(atom.Table)) {
		rows := tableRows(table)
		if len(rows) == 0 {
			continue
		}

		var headers []string
		start := 0
		if cells, isHeader := rowCells(rows[0]); isHeader {
			headers = cells
			start = 1
		}

		for _, row := range rows[start:] {
			cells, _ := rowCells(row)
			if len(cells) == 0 || allEmpty(cells) {
				continue
			}
			if headers == nil && len(cells) < 2 {
				continue
			}

			fields := make(map[string]any, len(cells)*2)
			for i, cell := range cells {
				fields[fmt.Sprintf("col_%d", i)] = cell
				if i < len(headers) && headers[i] != "" {
					fields[headers[i]] = cell
				}
			}
			records = append(records, fields)
		}
	}

	return records
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
