// Package export renders story branches into downloadable documents.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// WriteBranchPDF writes the chapters of path, root first, as an A4 PDF.
func WriteBranchPDF(w io.Writer, saga *models.Saga, path []*models.StoryNode) error {
	if saga == nil {
		return fmt.Errorf("saga is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(saga.Title), false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 22)
	pdf.MultiCell(0, 12, tr(saga.Title), "", "C", false)
	pdf.SetFont("Helvetica", "I", 13)
	pdf.MultiCell(0, 8, tr(saga.WorldName), "", "C", false)
	pdf.Ln(6)
	pdf.SetFont("Times", "", 12)
	for _, para := range paragraphs(saga.Premise) {
		pdf.MultiCell(0, 6, tr(para), "", "L", false)
		pdf.Ln(2)
	}

	for _, node := range path {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 16)
		pdf.MultiCell(0, 10, fmt.Sprintf("Chapter %d", node.ChapterNumber), "", "L", false)

		pdf.SetFont("Times", "I", 11)
		if node.UserDecision != "" {
			pdf.MultiCell(0, 6, tr("Your decision: "+node.UserDecision), "", "L", false)
		}
		if node.StoryDirection != "" {
			pdf.MultiCell(0, 6, tr("Direction: "+node.StoryDirection), "", "L", false)
		}
		pdf.Ln(3)

		pdf.SetFont("Times", "", 12)
		for _, para := range paragraphs(node.Content) {
			pdf.MultiCell(0, 6, tr(para), "", "J", false)
			pdf.Ln(3)
		}
		if node.Status.Terminal() {
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(0, 6, "This timeline has ended.", "", "L", false)
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return pdf.Output(w)
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
