/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const sampleScript = `[[narration||Classroom||The bell rings.]]
[[character||Alice||happy||wave||smile||Good morning, everyone! Today we are going on a trip to the seaside.]]
[[choice||Go left||Go right]]
[[choice||Stay a while||Alice||Then let's sit down.]]
[[blacktext||Three hours later]]
<StatusBlock>地点: Beach
心情: relaxed</StatusBlock>`

func sampleTranscript() Transcript {
	return FromScript("Chapter One: The Trip", sampleScript)
}

func TestFromScript(t *testing.T) {
	tr := sampleTranscript()
	if len(tr.Blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(tr.Blocks))
	}
	if tr.Status.Location() != "Beach" {
		t.Fatalf("status not parsed: %+v", tr.Status)
	}
	if got := fileBase(tr.Title); got != "chapter-one-the-trip" {
		t.Fatalf("fileBase: %q", got)
	}
	if got := fileBase("  !! "); got != "transcript" {
		t.Fatalf("fileBase fallback: %q", got)
	}
}

func TestExportTranscriptPDF_CreatesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out", "chapter.pdf")
	if err := ExportTranscriptPDF(sampleTranscript(), out, PDFOptions{IncludeStatus: true}); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("not a pdf: %q", data[:min(len(data), 16)])
	}
}

func TestExportTranscriptPDF_MissingFont(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chapter.pdf")
	err := ExportTranscriptPDF(sampleTranscript(), out, PDFOptions{FontPath: filepath.Join(t.TempDir(), "missing.ttf")})
	if err == nil {
		t.Fatalf("expected font error")
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Fatalf("no file should be written on font error")
	}
}

func TestStatusLines_Order(t *testing.T) {
	lines := statusLines(map[string]string{"zeta": "1", "心情": "ok", "地点": "here", "alpha": "2"})
	want := []string{"地点: here", "心情: ok", "alpha: 2", "zeta: 1"}
	if len(lines) != len(want) {
		t.Fatalf("got %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}
