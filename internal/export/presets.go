/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0
 */

package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetReading    PresetName = "reading"
	PresetStoryboard PresetName = "storyboard"
	PresetArchive    PresetName = "archive"
)

// BatchOptions controls a batch export.
//
// Path semantics:
//   - OutDir defaults to exports/<preset>.
//   - pdf and json write <title>.pdf and <title>.json into OutDir.
//   - png writes block-NNN.png into OutDir/png.
type BatchOptions struct {
	Preset        PresetName
	Formats       []string // allowed: pdf, png, json; empty means preset defaults
	IncludeStatus *bool    // when set, overrides the preset default
	FontPath      string
	OutDir        string
}

// BatchResult lists the files written.
type BatchResult struct {
	Files []string
}

// BatchExport runs exports according to the given preset.
func BatchExport(t Transcript, opt BatchOptions) (BatchResult, error) {
	var res BatchResult
	if len(t.Blocks) == 0 {
		return res, fmt.Errorf("transcript has no blocks")
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	baseOut := opt.OutDir
	if baseOut == "" {
		p := opt.Preset
		if p == "" {
			p = PresetReading
		}
		baseOut = filepath.Join("exports", string(p))
	}
	status := presetIncludeStatus(opt.Preset)
	if opt.IncludeStatus != nil {
		status = *opt.IncludeStatus
	}
	stem := fileBase(t.Title)

	for _, f := range formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "pdf":
			out := filepath.Join(baseOut, stem+".pdf")
			if err := ExportTranscriptPDF(t, out, PDFOptions{FontPath: opt.FontPath, IncludeStatus: status}); err != nil {
				return res, fmt.Errorf("pdf: %w", err)
			}
			res.Files = append(res.Files, out)
		case "png":
			outDir := filepath.Join(baseOut, "png")
			n, err := ExportBlockFrames(t, outDir, PNGOptions{})
			if err != nil {
				return res, fmt.Errorf("png: %w", err)
			}
			for i := 1; i <= n; i++ {
				res.Files = append(res.Files, filepath.Join(outDir, fmt.Sprintf("block-%03d.png", i)))
			}
		case "json":
			out := filepath.Join(baseOut, stem+".json")
			if err := writeJSON(t, out); err != nil {
				return res, fmt.Errorf("json: %w", err)
			}
			res.Files = append(res.Files, out)
		default:
			return res, fmt.Errorf("unknown format: %s", f)
		}
	}
	return res, nil
}

func writeJSON(t Transcript, out string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	return os.WriteFile(out, data, 0o644)
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetStoryboard:
		return []string{"png", "pdf"}
	case PresetArchive:
		return []string{"json", "pdf"}
	default:
		return []string{"pdf"}
	}
}

func presetIncludeStatus(p PresetName) bool {
	return p == PresetArchive
}
