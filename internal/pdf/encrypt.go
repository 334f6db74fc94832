package pdf

import (
	"context"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/paper-batch/internal/batch"
)

const (
	encryptedFilename = "encrypted.pdf"
	encryptKeyLength  = 256
)

func (s *Service) executeEncrypt(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error) {
	if opts.UserPassword == "" && opts.OwnerPassword == "" {
		return nil, newError("INVALID_INPUT", "パスワードを指定してください。", nil)
	}
	owner := opts.OwnerPassword
	if owner == "" {
		owner = opts.UserPassword
	}

	reportProgress(progress, 40)
	outputPath := ws.output(encryptedFilename)
	conf := model.NewAESConfiguration(opts.UserPassword, owner, encryptKeyLength)
	if err := pdfapi.EncryptFile(src.Path, outputPath, conf); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの暗号化に失敗しました。", err)
	}

	return &Result{
		OutputPath:     outputPath,
		OutputFilename: encryptedFilename,
		ResultKind:     ResultKindPDF,
		Meta: &EncryptMeta{
			Source:    src.meta(),
			Algorithm: "AES",
			KeyLength: encryptKeyLength,
		},
	}, nil
}
