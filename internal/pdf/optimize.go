package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/paper-batch/internal/batch"
)

const (
	optimizedFilename = "optimized.pdf"

	engineGhostscript = "ghostscript"
	enginePdfcpu      = "pdfcpu"
)

func (s *Service) executeOptimize(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error) {
	preset, err := normalizePreset(opts.Preset)
	if err != nil {
		return nil, err
	}

	reportProgress(progress, 40)

	outputPath := ws.output(optimizedFilename)
	engine := engineGhostscript
	if s.cfg.GhostscriptPath != "" {
		if err := s.runGhostscript(ctx, src.Path, outputPath, preset); err != nil {
			return nil, err
		}
	} else {
		engine = enginePdfcpu
		if err := pdfapi.OptimizeFile(src.Path, outputPath, nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF", "PDFの最適化に失敗しました。ファイルが破損していないか確認してください。", err)
		}
	}

	size, err := statOutput(outputPath)
	if err != nil {
		return nil, err
	}

	return &Result{
		OutputPath:     outputPath,
		OutputFilename: optimizedFilename,
		ResultKind:     ResultKindPDF,
		Meta: &OptimizeMeta{
			OriginalSize: src.Size,
			OutputSize:   size,
			SavedBytes:   src.Size - size,
			SavedPercent: computeSavedPercent(src.Size, size),
			Preset:       preset,
			Engine:       engine,
			Source:       src.meta(),
		},
	}, nil
}

func normalizePreset(p OptimizePreset) (OptimizePreset, error) {
	switch strings.ToLower(string(p)) {
	case "", string(OptimizePresetStandard):
		return OptimizePresetStandard, nil
	case string(OptimizePresetAggressive):
		return OptimizePresetAggressive, nil
	default:
		return "", newError("INVALID_INPUT", fmt.Sprintf("presetには standard または aggressive を指定してください (received: %s)", p), nil)
	}
}

func (s *Service) runGhostscript(ctx context.Context, inputPath, outputPath string, preset OptimizePreset) error {
	args := ghostscriptArgs(outputPath, inputPath, preset)

	cmd := exec.CommandContext(ctx, s.cfg.GhostscriptPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError("UNSUPPORTED_PDF", fmt.Sprintf("Ghostscriptによる圧縮に失敗しました: %s", strings.TrimSpace(stderr.String())), err)
	}
	return nil
}

func ghostscriptArgs(outputPath, inputPath string, preset OptimizePreset) []string {
	setting := "/printer"
	if preset == OptimizePresetAggressive {
		setting = "/screen"
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
