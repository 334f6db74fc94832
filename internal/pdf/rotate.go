package pdf

import (
	"context"
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/paper-batch/internal/batch"
)

const rotatedFilename = "rotated.pdf"

func (s *Service) executeRotate(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error) {
	rotation, err := normalizeRotation(opts.Rotation)
	if err != nil {
		return nil, err
	}
	pages, err := normalizePages(opts.Pages, src.Pages)
	if err != nil {
		return nil, err
	}

	reportProgress(progress, 40)
	outputPath := ws.output(rotatedFilename)
	if err := pdfapi.RotateFile(src.Path, outputPath, rotation, pages, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの回転に失敗しました。", err)
	}

	return &Result{
		OutputPath:     outputPath,
		OutputFilename: rotatedFilename,
		ResultKind:     ResultKindPDF,
		Meta: &RotateMeta{
			Source:   src.meta(),
			Rotation: rotation,
			Pages:    pages,
		},
	}, nil
}

// normalizeRotation は回転角を 90 の倍数 (-270..270, 0 以外) に揃えます。0 は 90 として扱います。
func normalizeRotation(rotation int) (int, error) {
	if rotation == 0 {
		return 90, nil
	}
	if rotation%90 != 0 {
		return 0, newError("INVALID_INPUT", fmt.Sprintf("rotation には 90 の倍数を指定してください (received: %d)", rotation), nil)
	}
	rotation %= 360
	if rotation == 0 {
		return 0, newError("INVALID_INPUT", "rotation に 360 の倍数は指定できません。", nil)
	}
	return rotation, nil
}

// normalizePages はページ指定を検証します。空なら全ページが対象です。
func normalizePages(pages []string, pageCount int) ([]string, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		start, end, err := parseSingleRange(p, pageCount)
		if err != nil {
			return nil, err
		}
		if start == end {
			out = append(out, fmt.Sprintf("%d", start))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", start, end))
		}
	}
	return out, nil
}
