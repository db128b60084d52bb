/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"

	"galstage/internal/script"
	"galstage/internal/textlayout"
)

// PDFOptions controls PDF export. Units are points.
//
// Without FontPath the built-in Helvetica is used, which only covers Latin-1.
// Scripts in Chinese or Japanese need a TTF with matching glyphs.
type PDFOptions struct {
	PageWidth     float64 // default A5
	PageHeight    float64
	Margin        float64
	FontPath      string
	FontSize      float64
	IncludeStatus bool
	NameColor     Color
	SceneColor    Color
}

const bodyFamily = "body"

// ExportTranscriptPDF writes t as a single PDF at outPath.
func ExportTranscriptPDF(t Transcript, outPath string, opt PDFOptions) error {
	pageW, pageH := opt.PageWidth, opt.PageHeight
	if pageW <= 0 || pageH <= 0 {
		pageW, pageH = 420, 595
	}
	margin := opt.Margin
	if margin <= 0 {
		margin = 36
	}
	fs := opt.FontSize
	if fs <= 0 {
		fs = 11
	}
	nameCol := opt.NameColor
	if nameCol.isZero() {
		nameCol = Color{R: 40, G: 80, B: 160, A: 255}
	}
	sceneCol := opt.SceneColor
	if sceneCol.isZero() {
		sceneCol = Color{R: 120, G: 120, B: 120, A: 255}
	}
	lineH := fs * 1.4

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pageW, Ht: pageH},
	})
	pdf.SetTitle(t.Title, true)
	pdf.SetAuthor("galstage", false)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)

	family := "Helvetica"
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if opt.FontPath != "" {
		if _, err := os.Stat(opt.FontPath); err != nil {
			return fmt.Errorf("pdf font: %w", err)
		}
		pdf.AddUTF8Font(bodyFamily, "", opt.FontPath)
		family = bodyFamily
		tr = func(s string) string { return s }
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("pdf font: %w", err)
	}

	pdf.AddPage()
	contentW := pageW - 2*margin
	indent := fs * 1.5

	if t.Title != "" {
		pdf.SetFont(family, "", fs+6)
		pdf.CellFormat(contentW, lineH*1.5, tr(t.Title), "", 1, "L", false, 0, "")
	}
	pdf.SetFont(family, "", fs)
	m := pdfMeasurer{pdf: pdf, tr: tr, lineH: lineH}

	if opt.IncludeStatus && len(t.Status) > 0 {
		setTextColor(pdf, sceneCol)
		for _, l := range statusLines(t.Status) {
			for _, wl := range textlayout.Wrap(m, l, float32(contentW)).Lines {
				pdf.CellFormat(contentW, lineH, tr(wl.Text), "", 1, "L", false, 0, "")
			}
		}
		pdf.Ln(lineH / 2)
	}

	for _, b := range t.Blocks {
		d := textlayout.LayoutBlock(m, b, float32(contentW-indent))
		if d.Speaker != "" {
			setTextColor(pdf, nameCol)
			pdf.CellFormat(contentW, lineH, tr(d.Speaker), "", 1, "L", false, 0, "")
		}
		if d.Scene != "" && (b.Kind == script.KindNarration || b.Kind == script.KindUser) {
			setTextColor(pdf, sceneCol)
			pdf.CellFormat(contentW, lineH, tr("["+d.Scene+"]"), "", 1, "L", false, 0, "")
		}
		pdf.SetTextColor(0, 0, 0)
		align := "L"
		if d.Centered {
			align = "C"
		}
		for _, l := range d.Body.Lines {
			pdf.SetX(margin + indent)
			pdf.CellFormat(contentW-indent, lineH, tr(l.Text), "", 1, align, false, 0, "")
		}
		for _, o := range d.Options {
			for _, l := range o.Lines {
				pdf.SetX(margin + indent)
				pdf.CellFormat(contentW-indent, lineH, tr(l.Text), "", 1, "L", false, 0, "")
			}
		}
		if len(d.Response.Lines) > 0 {
			setTextColor(pdf, sceneCol)
			for _, l := range d.Response.Lines {
				pdf.SetX(margin + indent)
				pdf.CellFormat(contentW-indent, lineH, tr(l.Text), "", 1, "L", false, 0, "")
			}
		}
		pdf.Ln(lineH / 2)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// pdfMeasurer measures with the current PDF font so wrapping matches the output.
type pdfMeasurer struct {
	pdf   *gofpdf.Fpdf
	tr    func(string) string
	lineH float64
}

func (m pdfMeasurer) Advance(s string) float32 { return float32(m.pdf.GetStringWidth(m.tr(s))) }
func (m pdfMeasurer) LineHeight() float32       { return float32(m.lineH) }

func setTextColor(pdf *gofpdf.Fpdf, c Color) {
	pdf.SetTextColor(int(c.R), int(c.G), int(c.B))
}
