package editor

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var formatExtensions = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/html":     ".html",
	"text/markdown": ".md",
	"pdf":           ".pdf",
	"docx":          ".docx",
	"html":          ".html",
	"markdown":      ".md",
}

// artifactName picks a local file name for a job: the last element of the
// download URL when it carries an extension, otherwise one derived from the
// document, task and format.
func artifactName(job ExportJob) string {
	if u, err := url.Parse(job.DownloadURL); err == nil {
		base := path.Base(u.Path)
		if path.Ext(base) != "" && base != "/" {
			return filepath.Base(base)
		}
	}
	ext, ok := formatExtensions[job.Format]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("%s-%s%s", job.DocumentID, job.TaskID, ext)
}

// saveArtifact streams r into a temporary file in dir and moves it to name
// once complete. When checksum is set the content must hash to it
// (hex-encoded BLAKE2b-256) or nothing is kept.
func saveArtifact(dir, name string, r io.Reader, checksum string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hash, err := blake2b.New256(nil)
	if err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("init checksum: %w", err)
	}
	if _, err := io.Copy(io.MultiWriter(tmp, hash), r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if checksum != "" && !strings.EqualFold(hex.EncodeToString(hash.Sum(nil)), checksum) {
		return "", ErrChecksumMismatch
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("move artifact: %w", err)
	}
	return final, nil
}
