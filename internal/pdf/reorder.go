package pdf

import (
	"context"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/paper-batch/internal/batch"
)

const reorderFilename = "reordered.pdf"

func (s *Service) executeReorder(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error) {
	if len(opts.Order) == 0 {
		return nil, newError("INVALID_INPUT", "ページの順序を指定してください。", nil)
	}
	if err := validateOrder(opts.Order, src.Pages); err != nil {
		return nil, err
	}

	selectedPages := make([]string, len(opts.Order))
	for i, idx := range opts.Order {
		selectedPages[i] = strconv.Itoa(idx + 1)
	}

	reportProgress(progress, 40)
	outputPath := ws.output(reorderFilename)
	if err := pdfapi.CollectFile(src.Path, outputPath, selectedPages, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFのページ入替に失敗しました。ファイルが破損していないか確認してください。", err)
	}

	return &Result{
		OutputPath:     outputPath,
		OutputFilename: reorderFilename,
		ResultKind:     ResultKindPDF,
		Meta: &ReorderMeta{
			Original: src.meta(),
			Order:    append([]int(nil), opts.Order...),
		},
	}, nil
}

// validateOrder は order が 0-based のページ番号の並べ替えであることを確認します。
func validateOrder(order []int, pageCount int) error {
	if len(order) != pageCount {
		return newError("INVALID_INPUT", "order配列の長さがページ数と一致していません。", nil)
	}

	seen := make([]bool, pageCount)
	for _, idx := range order {
		if idx < 0 || idx >= pageCount {
			return newError("INVALID_INPUT", "order配列に不正なページ番号が含まれています。", nil)
		}
		if seen[idx] {
			return newError("INVALID_INPUT", "order配列に重複した番号が含まれています。", nil)
		}
		seen[idx] = true
	}

	return nil
}
