// Package timeline maintains the branching forest of story nodes of a saga.
package timeline

import (
	"fmt"
	"sort"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// Branch is a node placed in the rendered forest.
type Branch struct {
	Node     *models.StoryNode `json:"node"`
	Level    int               `json:"level"`
	Position int               `json:"position"`
	Children []*Branch         `json:"children"`
}

// ChildIndex maps a parent id to its children in chapter order. Roots, and
// nodes whose parent is not in the set, are listed under "".
func ChildIndex(nodes []*models.StoryNode) map[string][]*models.StoryNode {
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.ID] = true
	}

	index := make(map[string][]*models.StoryNode)
	for _, n := range nodes {
		key := n.ParentKey()
		if key != "" && !present[key] {
			key = ""
		}
		index[key] = append(index[key], n)
	}
	for _, children := range index {
		sortByChapter(children)
	}
	return index
}

// BuildForest arranges nodes into trees rooted at the nodes without a parent in the set.
// After a root is deleted its promoted children become roots at their own chapter.
func BuildForest(nodes []*models.StoryNode) []*Branch {
	index := ChildIndex(nodes)
	visited := make(map[string]bool, len(nodes))

	var build func(n *models.StoryNode, level, position int) *Branch
	build = func(n *models.StoryNode, level, position int) *Branch {
		visited[n.ID] = true
		b := &Branch{Node: n, Level: level, Position: position, Children: []*Branch{}}
		for i, child := range index[n.ID] {
			if visited[child.ID] {
				continue
			}
			b.Children = append(b.Children, build(child, level+1, i))
		}
		return b
	}

	forest := make([]*Branch, 0, len(index[""]))
	for i, root := range index[""] {
		forest = append(forest, build(root, 0, i))
	}
	return forest
}

// Descendants returns every transitive child of rootID in breadth-first order,
// excluding rootID itself.
func Descendants(nodes []*models.StoryNode, rootID string) []string {
	index := ChildIndex(nodes)

	var out []string
	seen := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range index[id] {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child.ID)
			queue = append(queue, child.ID)
		}
	}
	return out
}

// PathToRoot returns the ancestry of nodeID ordered from its root to the node.
func PathToRoot(nodes []*models.StoryNode, nodeID string) ([]*models.StoryNode, error) {
	byID := make(map[string]*models.StoryNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	current, ok := byID[nodeID]
	if !ok {
		return nil, models.ErrNotFound
	}

	var reversed []*models.StoryNode
	seen := make(map[string]bool)
	for current != nil {
		if seen[current.ID] {
			return nil, fmt.Errorf("cycle detected at node %s", current.ID)
		}
		seen[current.ID] = true
		reversed = append(reversed, current)
		if current.ParentID == nil {
			break
		}
		current = byID[*current.ParentID]
	}

	path := make([]*models.StoryNode, len(reversed))
	for i, n := range reversed {
		path[len(reversed)-1-i] = n
	}
	return path, nil
}

// Validate checks that every node reaches a root without revisiting a node.
func Validate(nodes []*models.StoryNode) error {
	for _, n := range nodes {
		if _, err := PathToRoot(nodes, n.ID); err != nil {
			return err
		}
	}
	return nil
}

func sortByChapter(nodes []*models.StoryNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].ChapterNumber != nodes[j].ChapterNumber {
			return nodes[i].ChapterNumber < nodes[j].ChapterNumber
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}
