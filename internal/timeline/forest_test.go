package timeline

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// tree builds nodes from "id:parent:chapter" triples; an empty parent makes a root.
func tree(specs ...string) []*models.StoryNode {
	base := time.Unix(1700000000, 0)
	var nodes []*models.StoryNode
	for i, spec := range specs {
		parts := strings.Split(spec, ":")
		n := &models.StoryNode{
			ID:        parts[0],
			SagaID:    "s",
			UserID:    "u",
			Status:    models.StatusActive,
			Content:   "text",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if parts[1] != "" {
			n.ParentID = models.StringPtr(parts[1])
		}
		var ch int
		for _, c := range parts[2] {
			ch = ch*10 + int(c-'0')
		}
		n.ChapterNumber = ch
		nodes = append(nodes, n)
	}
	return nodes
}

func TestDescendantsBreadthFirst(t *testing.T) {
	nodes := tree("r::1", "a:r:2", "b:r:2", "a1:a:3", "a2:a:3", "b1:b:3", "a11:a1:4", "other::1")

	got := Descendants(nodes, "a")
	want := []string{"a1", "a2", "a11"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Descendants(a) = %v, want %v", got, want)
	}

	all := Descendants(nodes, "r")
	sort.Strings(all)
	if strings.Join(all, ",") != "a,a1,a11,a2,b,b1" {
		t.Fatalf("Descendants(r) = %v", all)
	}

	if d := Descendants(nodes, "a11"); len(d) != 0 {
		t.Fatalf("leaf has descendants %v", d)
	}
}

func TestPathToRoot(t *testing.T) {
	nodes := tree("r::1", "a:r:2", "a1:a:3", "b:r:2")
	path, err := PathToRoot(nodes, "a1")
	if err != nil {
		t.Fatalf("PathToRoot: %v", err)
	}
	var ids []string
	for _, n := range path {
		ids = append(ids, n.ID)
	}
	if strings.Join(ids, ",") != "r,a,a1" {
		t.Fatalf("path = %v", ids)
	}
	for i := 1; i < len(path); i++ {
		if path[i].ChapterNumber != path[i-1].ChapterNumber+1 {
			t.Fatalf("chapter numbers not consecutive along path")
		}
	}
}

func TestPathToRootDetectsCycle(t *testing.T) {
	nodes := tree("a:b:1", "b:a:2")
	if _, err := PathToRoot(nodes, "a"); err == nil {
		t.Fatal("expected cycle error")
	}
	if err := Validate(nodes); err == nil {
		t.Fatal("Validate should reject a cycle")
	}
	if err := Validate(tree("r::1", "a:r:2")); err != nil {
		t.Fatalf("Validate on a tree: %v", err)
	}
}

func TestBuildForestLevelsAndPositions(t *testing.T) {
	nodes := tree("r1::1", "r2::1", "a:r1:2", "b:r1:2", "a1:a:3")
	forest := BuildForest(nodes)

	if len(forest) != 2 || forest[0].Node.ID != "r1" || forest[1].Node.ID != "r2" {
		t.Fatalf("unexpected roots %+v", forest)
	}
	r1 := forest[0]
	if len(r1.Children) != 2 || r1.Children[1].Node.ID != "b" || r1.Children[1].Position != 1 {
		t.Fatalf("unexpected children of r1")
	}
	a1 := r1.Children[0].Children[0]
	if a1.Node.ID != "a1" || a1.Level != 2 {
		t.Fatalf("a1 = %+v", a1)
	}
	if forest[1].Children == nil || len(forest[1].Children) != 0 {
		t.Fatalf("leaf children should be an empty slice")
	}
}

func TestOrphansAreTreatedAsRoots(t *testing.T) {
	nodes := tree("a:gone:2", "b:a:3")
	forest := BuildForest(nodes)
	if len(forest) != 1 || forest[0].Node.ID != "a" || len(forest[0].Children) != 1 {
		t.Fatalf("unexpected forest for orphaned branch: %+v", forest)
	}
}

func TestBuildForestRootsAreParentless(t *testing.T) {
	// "a" and "b" were promoted after their chapter-one root was deleted
	nodes := tree("a::2", "b::2", "a1:a:3")

	forest := BuildForest(nodes)
	if len(forest) != 2 {
		t.Fatalf("len(forest) = %d, want 2", len(forest))
	}
	for _, root := range forest {
		if root.Node.ParentID != nil || root.Level != 0 || root.Node.ChapterNumber != 2 {
			t.Fatalf("root %s: parent %v level %d chapter %d", root.Node.ID, root.Node.ParentID, root.Level, root.Node.ChapterNumber)
		}
	}
	if forest[0].Node.ID != "a" || len(forest[0].Children) != 1 || forest[0].Children[0].Level != 1 {
		t.Fatalf("unexpected shape for a: %+v", forest[0])
	}
}
