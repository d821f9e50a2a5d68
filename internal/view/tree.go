// Package view turns history snapshots into labeled trees for renderers.
package view

import (
	"fmt"
	"sort"
	"time"

	"github.com/runnerr0/readtrail/internal/history"
)

// TimeLayout formats visit leaves.
const TimeLayout = "2006-01-02 15:04:05"

// Node is one tree node. The JSON shape is the one jstree consumes.
type Node struct {
	Label    string  `json:"text"`
	Children []*Node `json:"children"`
}

type config struct {
	loc *time.Location
}

// Option customizes BuildTree.
type Option func(*config)

// WithLocation renders leaf timestamps in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *config) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// BuildTree builds library -> document -> page -> visit instant. It does no
// I/O and always returns a root, with an empty child list when nothing is
// tracked.
func BuildTree(snap *history.Snapshot, opts ...Option) *Node {
	cfg := config{loc: time.UTC}
	for _, o := range opts {
		o(&cfg)
	}

	root := &Node{Children: []*Node{}}
	if snap == nil {
		return root
	}
	root.Label = snap.LibraryName

	docs := append([]history.DocumentSnapshot(nil), snap.Documents...)
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Title != docs[j].Title {
			return docs[i].Title < docs[j].Title
		}
		return docs[i].Key < docs[j].Key
	})

	for _, doc := range docs {
		if doc.Record == nil {
			continue
		}
		docNode := &Node{Label: doc.Title, Children: []*Node{}}
		for _, page := range doc.Record.PageNumbers() {
			pageNode := &Node{Label: fmt.Sprintf("page %d", page), Children: []*Node{}}
			for _, ts := range history.Boundaries(doc.Record.Spans(page)) {
				pageNode.Children = append(pageNode.Children, &Node{
					Label:    time.Unix(ts, 0).In(cfg.loc).Format(TimeLayout),
					Children: []*Node{},
				})
			}
			docNode.Children = append(docNode.Children, pageNode)
		}
		root.Children = append(root.Children, docNode)
	}
	return root
}

// Count returns the number of nodes in the tree rooted at n.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}
