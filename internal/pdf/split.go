package pdf

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/paper-batch/internal/batch"
)

const splitFilename = "split.zip"

func (s *Service) executeSplit(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error) {
	rangesExpr := strings.TrimSpace(opts.Ranges)
	if rangesExpr == "" {
		return nil, newError("INVALID_INPUT", "分割するページ範囲を指定してください。", nil)
	}
	ranges, err := parsePageRanges(rangesExpr, src.Pages)
	if err != nil {
		return nil, err
	}

	partsDir := filepath.Join(ws.dir, "parts")
	if err := os.MkdirAll(partsDir, 0o750); err != nil {
		return nil, fmt.Errorf("分割用ディレクトリの作成に失敗しました: %w", err)
	}

	parts := make([]SplitPart, 0, len(ranges))
	partPaths := make([]string, 0, len(ranges))

	for i, pr := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		partName := fmt.Sprintf("part-%02d.pdf", i+1)
		partPath := filepath.Join(partsDir, partName)
		if err := pdfapi.CollectFile(src.Path, partPath, buildPageSelection(pr), nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF", fmt.Sprintf("ページ範囲 %d の生成に失敗しました。", i+1), err)
		}
		size, err := statOutput(partPath)
		if err != nil {
			return nil, err
		}

		parts = append(parts, SplitPart{
			Filename: partName,
			FromPage: pr.Start,
			ToPage:   pr.End,
			Pages:    pr.End - pr.Start + 1,
			Size:     size,
		})
		partPaths = append(partPaths, partPath)
		reportProgress(progress, stepProgress(i+1, len(ranges)))
	}

	outputPath := ws.output(splitFilename)
	if err := createZip(outputPath, partPaths); err != nil {
		return nil, err
	}

	return &Result{
		OutputPath:     outputPath,
		OutputFilename: splitFilename,
		ResultKind:     ResultKindZIP,
		Meta: &SplitMeta{
			Original: src.meta(),
			Ranges:   ranges,
			Parts:    parts,
		},
	}, nil
}

// parsePageRanges は "1-3,4,5-" 形式の範囲指定を解釈します。範囲は昇順かつ重複なしです。
func parsePageRanges(expr string, pageCount int) ([]PageRange, error) {
	segments := strings.Split(expr, ",")
	ranges := make([]PageRange, 0, len(segments))
	lastEnd := 0

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, newError("INVALID_INPUT", "空の範囲指定が含まれています。", nil)
		}

		start, end, err := parseSingleRange(seg, pageCount)
		if err != nil {
			return nil, err
		}
		if start <= lastEnd {
			return nil, newError("INVALID_INPUT", "ページ範囲は昇順かつ重複なしで指定してください。", nil)
		}
		lastEnd = end

		ranges = append(ranges, PageRange{Start: start, End: end})

		if end == pageCount && i != len(segments)-1 {
			return nil, newError("INVALID_INPUT", "最終ページ指定の後に追加の範囲を指定することはできません。", nil)
		}
	}

	if len(ranges) == 0 {
		return nil, newError("INVALID_INPUT", "有効なページ範囲が指定されていません。", nil)
	}
	return ranges, nil
}

func parseSingleRange(seg string, pageCount int) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, newError("INVALID_INPUT", "範囲開始が整数ではありません。", nil)
		}
		end := pageCount
		if tail := strings.TrimSpace(parts[1]); tail != "" {
			end, err = strconv.Atoi(tail)
			if err != nil {
				return 0, 0, newError("INVALID_INPUT", "範囲終了が整数ではありません。", nil)
			}
		}
		if start < 1 || end < start || end > pageCount {
			return 0, 0, newError("INVALID_INPUT", "範囲指定がページ数の範囲外です。", nil)
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, newError("INVALID_INPUT", "ページ番号が整数ではありません。", nil)
	}
	if page < 1 || page > pageCount {
		return 0, 0, newError("INVALID_INPUT", "ページ番号がページ数の範囲外です。", nil)
	}
	return page, page, nil
}

func buildPageSelection(pr PageRange) []string {
	pages := make([]string, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		pages = append(pages, strconv.Itoa(p))
	}
	return pages
}

func createZip(outputPath string, files []string) (err error) {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("zipファイルの作成に失敗しました: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("zipファイルのクローズに失敗しました: %w", cerr)
		}
	}()

	zipWriter := zip.NewWriter(outFile)
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	for _, path := range sorted {
		if err := addZipEntry(zipWriter, path); err != nil {
			_ = zipWriter.Close()
			return err
		}
	}
	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("zipの書き込みに失敗しました: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
	}
	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
	}
	return nil
}
