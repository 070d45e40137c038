package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
)

// Renderer turns a lead into a PDF document.
type Renderer interface {
	Render(ctx context.Context, l *lead.Lead) ([]byte, error)
}

// FPDFRenderer renders the readiness report with go-pdf/fpdf.
type FPDFRenderer struct {
	Engine *scoring.Engine
	Brand  string
}

func NewFPDFRenderer(engine *scoring.Engine, brand string) *FPDFRenderer {
	if engine == nil {
		engine = scoring.New(scoring.DefaultWeights)
	}
	if brand == "" {
		brand = "SOC 2 Readiness Report"
	}
	return &FPDFRenderer{Engine: engine, Brand: brand}
}

func (r *FPDFRenderer) Render(ctx context.Context, l *lead.Lead) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// recommendations are not stored; scoring is deterministic given the
	// lead's creation time
	res := r.Engine.Score(scoring.Input{
		NumEmployees: l.NumEmployees,
		AuditDate:    l.AuditDate,
		AsOf:         l.CreatedAt,
		DataTypes:    l.DataTypes,
		Role:         l.Role,
		Industry:     l.Industry,
		Requirers:    l.SOC2Requirers,
	})

	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetTitle(r.Brand, true)
	doc.SetCreator("leadpipe", true)
	doc.SetCreationDate(l.CreatedAt)
	doc.SetModificationDate(l.CreatedAt)
	doc.SetCatalogSort(true)
	doc.SetMargins(20, 20, 20)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 20)
	doc.CellFormat(0, 12, tr(r.Brand), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 12)
	doc.CellFormat(0, 8, tr("Prepared for "+l.CompanyName), "", 1, "L", false, 0, "")
	doc.Ln(6)

	section := func(title string) {
		doc.SetFont("Helvetica", "B", 14)
		doc.CellFormat(0, 10, tr(title), "B", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 11)
		doc.Ln(2)
	}
	row := func(label, value string) {
		doc.SetFont("Helvetica", "B", 11)
		doc.CellFormat(60, 7, tr(label), "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 11)
		doc.CellFormat(0, 7, tr(value), "", 1, "L", false, 0, "")
	}

	section("Summary")
	row("Readiness score", fmt.Sprintf("%d / 100", l.ReadinessScore))
	row("Estimated cost", fmt.Sprintf("$%s - $%s", thousands(l.EstimatedCostLow), thousands(l.EstimatedCostHigh)))
	row("Target audit date", l.AuditDate.Format("January 2, 2006"))
	row("Days until audit", fmt.Sprintf("%d", scoring.DaysUntil(l.CreatedAt, l.AuditDate)))
	row("Company size", fmt.Sprintf("%d employees (%s)", l.NumEmployees, res.SizeBand))
	if len(l.DataTypes) > 0 {
		row("Sensitive data", strings.Join(l.DataTypes, ", "))
	}
	if len(l.SOC2Requirers) > 0 {
		row("Requested by", strings.Join(l.SOC2Requirers, ", "))
	}
	doc.Ln(6)

	section("Recommended next steps")
	for i, rec := range res.Recommendations {
		doc.MultiCell(0, 6, tr(fmt.Sprintf("%d. %s", i+1, rec)), "", "L", false)
		doc.Ln(1)
	}
	doc.Ln(6)

	doc.SetFont("Helvetica", "I", 9)
	doc.MultiCell(0, 5, tr(fmt.Sprintf(
		"Estimates are planning figures generated on %s, not an audit opinion.",
		l.CreatedAt.UTC().Format(time.RFC1123))), "", "L", false)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: render: %w", err)
	}
	return buf.Bytes(), nil
}

func thousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
