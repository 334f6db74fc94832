package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/bundle"
	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/pdf"
	"github.com/yourusername/paper-batch/internal/storage"
)

type runConfig struct {
	Operation   pdf.OperationType
	Concurrency int
	OutDir      string
	Options     string
	WorkDir     string
	Ghostscript string
	MaxPages    int
	MaxFileSize int64
}

// localFile はコマンドライン引数で渡された入力ファイルです。
type localFile string

func (f localFile) Name() string {
	return filepath.Base(string(f))
}

// runBatch は files を1ファイル1ジョブとして実行し、成果物を OutDir に書き出します。
// 成功したジョブが無い場合、出力パスは空です。
func runBatch(ctx context.Context, cfg runConfig, files []string, logger *logrus.Logger) (batch.Stats, string, error) {
	opts, err := pdf.DecodeOptions(cfg.Options)
	if err != nil {
		return batch.Stats{}, "", err
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "batchctl-*")
		if err != nil {
			return batch.Stats{}, "", err
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}
	store, err := storage.NewLocal(workDir, 0)
	if err != nil {
		return batch.Stats{}, "", err
	}
	svc, err := pdf.NewService(&config.Config{
		MaxFileSize:     cfg.MaxFileSize,
		MaxPages:        cfg.MaxPages,
		GhostscriptPath: cfg.Ghostscript,
		WorkDir:         workDir,
	}, store, logger)
	if err != nil {
		return batch.Stats{}, "", err
	}
	op, err := svc.Operation(cfg.Operation)
	if err != nil {
		return batch.Stats{}, "", err
	}

	s := batch.New(
		batch.WithMaxConcurrent(cfg.Concurrency),
		batch.WithLogger(logger),
		batch.WithContext(ctx),
	)
	s.Subscribe(progressLogger(logger))

	items := make([]batch.Item, len(files))
	for i, path := range files {
		items[i] = batch.Item{Input: localFile(path), Operation: loadThen(svc, op), Options: opts}
	}
	s.SubmitAll(items)

	if err := s.Wait(ctx); err != nil {
		return batch.Stats{}, "", err
	}
	jobs := s.Jobs()
	defer cleanupResults(jobs, logger)

	stats := batch.Summarize(s.Completed(), s.Failed())
	outPath, err := writeBundle(jobs, cfg.OutDir)
	if err != nil && !errors.Is(err, bundle.ErrEmpty) {
		return stats, "", err
	}
	return stats, outPath, nil
}

// loadThen は入力ファイルの検証をジョブ内で行う Operation を返します。
// 検証に失敗したファイルはそのジョブだけが失敗になります。
func loadThen(svc *pdf.Service, op batch.Operation) batch.Operation {
	return func(ctx context.Context, input, options any, progress batch.ProgressFunc) (any, error) {
		f, ok := input.(localFile)
		if !ok {
			return nil, fmt.Errorf("unexpected input %T", input)
		}
		src, err := svc.Load(string(f))
		if err != nil {
			return nil, err
		}
		return op(ctx, src, options, progress)
	}
}

func progressLogger(logger logrus.FieldLogger) batch.Callbacks {
	return batch.Callbacks{
		OnJobStart: func(j batch.Job) {
			logger.WithField("file", inputName(j)).Debug("processing")
		},
		OnJobComplete: func(j batch.Job) {
			logger.WithFields(logrus.Fields{
				"file":       inputName(j),
				"durationMs": j.Duration().Milliseconds(),
			}).Info("done")
		},
		OnJobFailed: func(j batch.Job) {
			logger.WithField("file", inputName(j)).WithError(j.Err).Warn("failed")
		},
	}
}

// writeBundle は完了ジョブの成果物を outDir に書き出し、そのパスを返します。
func writeBundle(jobs []batch.Job, outDir string) (_ string, err error) {
	b, err := bundle.Collect(jobs)
	if err != nil {
		return "", err
	}
	path := filepath.Join(outDir, b.Name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if err := b.Write(f); err != nil {
		return "", err
	}
	return path, nil
}

func cleanupResults(jobs []batch.Job, logger logrus.FieldLogger) {
	for _, j := range jobs {
		res, ok := j.Result.(*pdf.Result)
		if !ok {
			continue
		}
		if err := res.Cleanup(); err != nil {
			logger.WithError(err).WithField("job", j.ID).Debug("cleanup failed")
		}
	}
}

func inputName(j batch.Job) string {
	if f, ok := j.Input.(localFile); ok {
		return string(f)
	}
	return j.ID
}
