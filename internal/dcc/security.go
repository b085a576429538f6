package dcc

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cascade-irc/client/internal/ircerr"
)

// disallowedFilenameChars mirrors the Python original's allow-list:
// letters, digits, space, dot, underscore, parens, brackets, hyphen.
var disallowedFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9 ._()\-\[\]]`)

var repeatedSeparators = regexp.MustCompile(`_{2,}`)

var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const maxFilenameLength = 255

// SanitizeFilename rejects names containing control bytes or NUL, strips
// path components and replaces characters outside the allow-list, guards
// against Windows reserved device names, collapses repeated substitution
// runs, and enforces a maximum length while trying to preserve the
// extension. Grounded on original_source/dcc_security.py's
// sanitize_filename.
func SanitizeFilename(filename string) (string, error) {
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return "", ircerr.DccSec(ircerr.DccBadFilename, "filename contains control bytes or NUL")
		}
	}
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(filename, "\\", "/")))
	if base == "." || base == ".." || base == "" {
		return "", ircerr.DccSec(ircerr.DccBadFilename, "filename resolves to empty or a path segment")
	}

	cleaned := disallowedFilenameChars.ReplaceAllString(base, "_")
	cleaned = repeatedSeparators.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, " ._")
	if cleaned == "" {
		return "", ircerr.DccSec(ircerr.DccBadFilename, "filename contained no allowed characters")
	}

	stem := cleaned
	ext := ""
	if idx := strings.LastIndex(cleaned, "."); idx > 0 {
		stem, ext = cleaned[:idx], cleaned[idx:]
	}
	if windowsReservedNames[strings.ToUpper(stem)] {
		stem = "_" + stem
	}
	cleaned = stem + ext

	if len(cleaned) > maxFilenameLength {
		if ext != "" && len(ext) < maxFilenameLength {
			cleaned = stem[:maxFilenameLength-len(ext)] + ext
		} else {
			cleaned = cleaned[:maxFilenameLength]
		}
	}

	return cleaned, nil
}

// ValidateDownloadPath rejects a requested name with a ".." path segment
// as a path escape, checks the sanitized name against blocked extensions
// and the max-size limit, then builds the absolute destination path under
// downloadDir and confirms it stays contained.
//
// Unlike the Python original's os.path.commonprefix-based containment
// check (vulnerable to sibling-directory prefix confusion, e.g.
// "/downloads-evil" sharing the string prefix "/downloads" with
// "/downloads"), this compares filepath.Clean'd absolute paths with an
// explicit trailing-separator boundary so a sibling directory can never be
// mistaken for a subdirectory of downloadDir.
func ValidateDownloadPath(requestedFilename, downloadDir string, blockedExtensions []string, maxSize, proposedSize int64) (string, error) {
	for _, seg := range strings.Split(strings.ReplaceAll(requestedFilename, "\\", "/"), "/") {
		if seg == ".." {
			return "", ircerr.DccSec(ircerr.DccPathEscape, "filename contains a parent-directory segment")
		}
	}
	sanitized, err := SanitizeFilename(requestedFilename)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(sanitized)
	for _, ext := range blockedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return "", ircerr.DccSec(ircerr.DccBlockedExtension, "blocked file extension: "+ext)
		}
	}

	if maxSize > 0 && proposedSize > maxSize {
		return "", ircerr.DccSec(ircerr.DccOversizeFile,
			"proposed size "+strconv.FormatInt(proposedSize, 10)+" exceeds limit "+strconv.FormatInt(maxSize, 10))
	}

	absDownloadDir, err := filepath.Abs(filepath.Clean(downloadDir))
	if err != nil {
		return "", ircerr.Wrap(ircerr.KindDccSecurity, "could not resolve download directory", err)
	}
	prospective := filepath.Join(absDownloadDir, sanitized)
	absProspective, err := filepath.Abs(filepath.Clean(prospective))
	if err != nil {
		return "", ircerr.Wrap(ircerr.KindDccSecurity, "could not resolve destination path", err)
	}

	if !isContained(absProspective, absDownloadDir) {
		return "", ircerr.DccSec(ircerr.DccPathEscape, "destination path escapes the download directory")
	}

	return absProspective, nil
}

// isContained reports whether child is downloadDir itself or a path
// strictly beneath it, bounded on a full path-separator segment so
// "/downloads-evil/x" is never mistaken for living under "/downloads".
func isContained(child, downloadDir string) bool {
	if child == downloadDir {
		return true
	}
	sep := string(filepath.Separator)
	prefix := downloadDir
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	return strings.HasPrefix(child, prefix)
}
