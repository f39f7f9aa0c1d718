package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

func TestWriteBranchPDF(t *testing.T) {
	saga := &models.Saga{Title: "Ashes of the Realm", WorldName: "Eldoria", Premise: "A fallen knight returns."}
	path := []*models.StoryNode{
		{ID: "a", ChapterNumber: 1, Content: "You wake.\n\nThe bells ring, once and twice.", Status: models.StatusActive},
		{ID: "b", ChapterNumber: 2, UserDecision: "follow the bells", Content: "You follow them.", Status: models.StatusEnded},
	}

	var buf bytes.Buffer
	if err := WriteBranchPDF(&buf, saga, path); err != nil {
		t.Fatalf("WriteBranchPDF: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "%PDF-") {
		t.Fatalf("output is not a pdf: %q", buf.String()[:16])
	}
}

func TestWriteBranchPDFRequiresSaga(t *testing.T) {
	if err := WriteBranchPDF(&bytes.Buffer{}, nil, nil); err == nil {
		t.Fatal("expected an error without a saga")
	}
}

func TestParagraphs(t *testing.T) {
	got := paragraphs("one\r\n\r\n  two  \n\n\n\nthree")
	if strings.Join(got, "|") != "one|two|three" {
		t.Fatalf("paragraphs = %q", got)
	}
}
