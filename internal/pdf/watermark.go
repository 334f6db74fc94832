package pdf

import (
	"context"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/paper-batch/internal/batch"
)

const (
	watermarkedFilename = "watermarked.pdf"
	watermarkDesc       = "scale:0.5 rel, rotation:45, opacity:0.3"
	maxWatermarkRunes   = 200
)

func (s *Service) executeWatermark(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error) {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return nil, newError("INVALID_INPUT", "透かしの文字列を指定してください。", nil)
	}
	if len([]rune(text)) > maxWatermarkRunes {
		return nil, newError("INVALID_INPUT", "透かしの文字列が長すぎます。", nil)
	}
	pages, err := normalizePages(opts.Pages, src.Pages)
	if err != nil {
		return nil, err
	}

	reportProgress(progress, 40)
	outputPath := ws.output(watermarkedFilename)
	if err := pdfapi.AddTextWatermarksFile(src.Path, outputPath, pages, false, text, watermarkDesc, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "透かしの追加に失敗しました。", err)
	}

	return &Result{
		OutputPath:     outputPath,
		OutputFilename: watermarkedFilename,
		ResultKind:     ResultKindPDF,
		Meta: &WatermarkMeta{
			Source: src.meta(),
			Text:   text,
			Pages:  pages,
		},
	}, nil
}
