package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/Brownie44l1/cattlecare-api/internal/cascade"
)

const disclaimer = "This report is generated by an automated image classifier and is not a substitute " +
	"for examination by a qualified veterinarian. Consult a veterinarian before starting any treatment."

const (
	labelWidth = 60.0
	lineHeight = 8.0
)

// UserInfo identifies who the report is generated for.
type UserInfo struct {
	Name  string
	Email string
}

// Generator renders prediction results as A4 PDF documents.
type Generator struct {
	Title string
}

// NewGenerator returns a generator with the default title.
func NewGenerator() *Generator {
	return &Generator{Title: "Cattle Disease Detection Report"}
}

// FileName is the download name for a report generated at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("cattle_report_%s.pdf", now.Format("20060102_150405"))
}

// Render writes the PDF report for res to w.
func (g *Generator) Render(w io.Writer, res *cascade.Result, user UserInfo, now time.Time) error {
	if res == nil {
		return errors.New("no prediction to report")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(g.Title, true)
	pdf.SetCreationDate(now)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-30)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.MultiCell(0, 4, tr(disclaimer), "", "C", false)
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(44, 62, 80)
	pdf.CellFormat(0, 14, tr(g.Title), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(labelWidth, lineHeight, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, lineHeight, tr(value), "", "L", false)
	}

	pdf.SetTextColor(0, 0, 0)
	row("Report Generated:", now.Format("2006-01-02 15:04:05"))
	row("User:", user.Name)
	pdf.Ln(4)

	heading(pdf, tr, "DIAGNOSIS RESULTS")
	row("Body Part Detected:", strings.ToUpper(res.BodyPart))
	row("Disease/Condition:", res.PredictedClass)
	row("Confidence Level:", fmt.Sprintf("%.2f%%", res.Confidence*100))
	row("Status:", string(res.Status))

	if info := res.MedicalInfo; info != nil {
		pdf.Ln(4)
		heading(pdf, tr, "IMMEDIATE ACTIONS")
		bullets(pdf, tr, info.ImmediateActions)

		pdf.Ln(2)
		heading(pdf, tr, "RECOMMENDED MEDICINES")
		meds := make([]string, 0, len(info.Medicines))
		for _, m := range info.Medicines {
			meds = append(meds, fmt.Sprintf("%s (%s) - Brand: %s", m.Name, m.Type, m.Brand))
		}
		bullets(pdf, tr, meds)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func heading(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetFillColor(52, 152, 219)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(0, lineHeight+1, tr(text), "", 1, "L", true, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(1)
}

func bullets(pdf *fpdf.Fpdf, tr func(string) string, items []string) {
	pdf.SetFont("Helvetica", "", 10)
	for _, item := range items {
		pdf.MultiCell(0, 6, tr("- "+item), "", "L", false)
	}
}
