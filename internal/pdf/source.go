package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const storedInputName = "input.pdf"

// Source はジョブの入力となる検証済みPDFです。
type Source struct {
	Path         string `json:"-"`
	OriginalName string `json:"name"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`

	dir string
}

// Name は元のファイル名を返します。
func (s Source) Name() string {
	return s.OriginalName
}

func (s Source) meta() SourceFileMeta {
	return SourceFileMeta{Name: s.OriginalName, Size: s.Size, Pages: s.Pages}
}

func sourceFrom(input any) (Source, error) {
	switch v := input.(type) {
	case Source:
		return v, nil
	case *Source:
		if v != nil {
			return *v, nil
		}
	}
	return Source{}, newError("INVALID_INPUT", fmt.Sprintf("入力がPDFファイルではありません (%T)", input), nil)
}

// StoreUpload はアップロードされたファイルを作業ディレクトリへ保存し、検証済みの Source を返します。
func (s *Service) StoreUpload(ctx context.Context, file *multipart.FileHeader) (_ Source, err error) {
	if file == nil {
		return Source{}, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return Source{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("%s のサイズが上限を超えています。", file.Filename), nil)
	}
	if err := ctx.Err(); err != nil {
		return Source{}, err
	}

	dir, err := s.store.CreateDir("upload")
	if err != nil {
		return Source{}, err
	}
	defer func() {
		if err != nil {
			_ = s.store.Remove(dir)
		}
	}()

	path := filepath.Join(dir, storedInputName)
	if err := copyUpload(ctx, file, path); err != nil {
		return Source{}, err
	}

	src, err := s.inspect(path, file.Filename)
	if err != nil {
		return Source{}, err
	}
	src.dir = dir
	s.store.Expire(dir)
	return src, nil
}

// Load はローカルのPDFファイルを検証して Source を返します。ファイルはコピーしません。
func (s *Service) Load(path string) (Source, error) {
	return s.inspect(path, filepath.Base(path))
}

// Discard は StoreUpload で保存した入力を削除します。
func (s *Service) Discard(src Source) error {
	if src.dir == "" {
		return nil
	}
	return s.store.Remove(src.dir)
}

func (s *Service) inspect(path, originalName string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Source{}, newError("INVALID_INPUT", fmt.Sprintf("%s が見つかりません。", originalName), err)
		}
		return Source{}, fmt.Errorf("入力ファイルの確認に失敗しました: %w", err)
	}
	if s.cfg.MaxFileSize > 0 && info.Size() > s.cfg.MaxFileSize {
		return Source{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("%s のサイズが上限を超えています。", originalName), nil)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return Source{}, newError("INVALID_INPUT", fmt.Sprintf("%s はPDFファイルではありません (%s)。", originalName, mtype.String()), nil)
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return Source{}, newError("UNSUPPORTED_PDF", fmt.Sprintf("%s を読み込めませんでした。", originalName), err)
	}
	if s.cfg.MaxPages > 0 && pages > s.cfg.MaxPages {
		return Source{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("%s のページ数が上限 (%d) を超えています。", originalName, s.cfg.MaxPages), nil)
	}

	return Source{
		Path:         path,
		OriginalName: strings.TrimSpace(originalName),
		Size:         info.Size(),
		Pages:        pages,
	}, nil
}

func copyUpload(ctx context.Context, file *multipart.FileHeader, dst string) error {
	in, err := file.Open()
	if err != nil {
		return fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("入力ファイルの作成に失敗しました: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}
	return out.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
