package dcc

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilenameStripsPathAndBadChars(t *testing.T) {
	got, err := SanitizeFilename("../../etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, "/") || strings.Contains(got, "..") {
		t.Fatalf("expected path stripped, got %q", got)
	}
}

func TestSanitizeFilenameReplacesDisallowedCharacters(t *testing.T) {
	got, err := SanitizeFilename("rep<ort>:*.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"<", ">", ":", "*"} {
		if strings.Contains(got, bad) {
			t.Fatalf("expected %q stripped from %q", bad, got)
		}
	}
}

func TestSanitizeFilenameHandlesWindowsReservedNames(t *testing.T) {
	got, err := SanitizeFilename("CON.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == "CON.txt" {
		t.Fatalf("expected reserved device name to be altered, got %q", got)
	}
}

func TestSanitizeFilenameEnforcesMaxLength(t *testing.T) {
	longName := strings.Repeat("a", 300) + ".txt"
	got, err := SanitizeFilename(longName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > maxFilenameLength {
		t.Fatalf("expected length <= %d, got %d", maxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".txt") {
		t.Fatalf("expected extension preserved, got %q", got)
	}
}

func TestSanitizeFilenameRejectsEmptyResult(t *testing.T) {
	if _, err := SanitizeFilename("../../.."); err == nil {
		t.Fatalf("expected error for a path with no basename")
	}
}

func TestValidateDownloadPathBlocksExtension(t *testing.T) {
	dir := t.TempDir()
	_, err := ValidateDownloadPath("malware.exe", dir, []string{".exe"}, 0, 100)
	if err == nil {
		t.Fatalf("expected blocked-extension error")
	}
}

func TestValidateDownloadPathBlocksOversize(t *testing.T) {
	dir := t.TempDir()
	_, err := ValidateDownloadPath("big.zip", dir, nil, 1000, 2000)
	if err == nil {
		t.Fatalf("expected oversize error")
	}
}

func TestValidateDownloadPathStaysContained(t *testing.T) {
	dir := t.TempDir()
	path, err := ValidateDownloadPath("notes.txt", dir, nil, 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	absDir, _ := filepath.Abs(dir)
	if !strings.HasPrefix(path, absDir+string(filepath.Separator)) {
		t.Fatalf("expected path under download dir, got %q", path)
	}
}

func TestValidateDownloadPathRejectsSiblingDirectoryPrefixConfusion(t *testing.T) {
	dir := t.TempDir()
	evilSibling := dir + "-evil"
	if !strings.HasPrefix(evilSibling, dir) {
		t.Fatalf("test setup assumption broken")
	}
	if isContained(filepath.Clean(evilSibling+"/stolen.txt"), filepath.Clean(dir)) {
		t.Fatalf("sibling directory must not be treated as contained")
	}
}
