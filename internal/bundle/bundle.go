// Package bundle は完了したジョブの成果物を1ファイル、または ZIP アーカイブとしてまとめます。
//
// 成果物が1件だけの場合も、ZIP のエントリと同じ「入力名_processed.拡張子」の名前を使います。
// 入力ファイルと同じ名前にはなりません。
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/paper-batch/internal/batch"
)

const (
	// ArchiveName は複数成果物をまとめた ZIP のファイル名です。
	ArchiveName = "batch_processed.zip"

	processedSuffix  = "_processed"
	defaultExtension = ".pdf"
)

// ErrEmpty はダウンロード可能な成果物が無いことを表します。
var ErrEmpty = errors.New("bundle: no completed results")

// Artifact はダウンロード可能なジョブ成果物です。
type Artifact interface {
	Filename() string
	Open() (io.ReadCloser, error)
}

// Entry はバンドルに含まれる1ファイルです。
type Entry struct {
	Name     string
	JobID    string
	Artifact Artifact
}

// Bundle は成果物のまとめです。Entries が1件ならそのまま、複数なら ZIP として書き出します。
type Bundle struct {
	Name    string
	Entries []Entry
	now     func() time.Time
}

// Collect は完了済みジョブから Bundle を作成します。完了していないジョブは無視します。
func Collect(jobs []batch.Job) (*Bundle, error) {
	entries := make([]Entry, 0, len(jobs))
	used := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.State != batch.StateCompleted {
			continue
		}
		art, ok := j.Result.(Artifact)
		if !ok || art == nil {
			return nil, fmt.Errorf("bundle: job %s has no downloadable result", j.ID)
		}
		entries = append(entries, Entry{
			Name:     uniqueName(used, processedName(j, art)),
			JobID:    j.ID,
			Artifact: art,
		})
	}
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	b := &Bundle{Entries: entries, now: time.Now}
	if b.Single() {
		b.Name = entries[0].Name
	} else {
		b.Name = ArchiveName
	}
	return b, nil
}

// Single は成果物が1件だけかどうかを返します。
func (b *Bundle) Single() bool {
	return len(b.Entries) == 1
}

// ContentType は書き出し内容の MIME タイプを返します。
func (b *Bundle) ContentType() string {
	if !b.Single() {
		return "application/zip"
	}
	switch strings.ToLower(filepath.Ext(b.Name)) {
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// Write は成果物を w に書き出します。
func (b *Bundle) Write(w io.Writer) error {
	if len(b.Entries) == 0 {
		return ErrEmpty
	}
	if b.Single() {
		return copyArtifact(w, b.Entries[0].Artifact)
	}

	zw := zip.NewWriter(w)
	modified := time.Now()
	if b.now != nil {
		modified = b.now()
	}
	for _, entry := range b.Entries {
		header := &zip.FileHeader{
			Name:     entry.Name,
			Method:   zip.Deflate,
			Modified: modified,
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("bundle: create entry %s: %w", entry.Name, err)
		}
		if err := copyArtifact(fw, entry.Artifact); err != nil {
			return fmt.Errorf("bundle: write entry %s: %w", entry.Name, err)
		}
	}
	return zw.Close()
}

func copyArtifact(w io.Writer, art Artifact) error {
	rc, err := art.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// processedName は「入力名_processed.拡張子」形式の名前を作ります。
func processedName(j batch.Job, art Artifact) string {
	base := j.ID
	if named, ok := j.Input.(interface{ Name() string }); ok {
		if n := strings.TrimSpace(named.Name()); n != "" {
			n = filepath.Base(n)
			base = strings.TrimSuffix(n, filepath.Ext(n))
		}
	}
	ext := filepath.Ext(art.Filename())
	if ext == "" {
		ext = defaultExtension
	}
	return base + processedSuffix + ext
}

func uniqueName(used map[string]struct{}, name string) string {
	if _, taken := used[name]; !taken {
		used[name] = struct{}{}
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := stem + "-" + strconv.Itoa(i) + ext
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
	}
}
