// Package pdf はバッチで実行する単一PDFファイル向けの処理を提供します。
package pdf

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/storage"
)

type executor func(ctx context.Context, ws workspace, src Source, opts Options, progress batch.ProgressFunc) (*Result, error)

// Service はPDF処理を batch.Operation として提供します。
type Service struct {
	cfg    *config.Config
	store  *storage.Local
	logger logrus.FieldLogger
	now    func() time.Time

	executors map[OperationType]executor
}

// NewService は Service を作成します。
func NewService(cfg *config.Config, store *storage.Local, logger logrus.FieldLogger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.WithField("component", "pdf"),
		now:    time.Now,
	}
	s.executors = map[OperationType]executor{
		OperationOptimize:  s.executeOptimize,
		OperationRotate:    s.executeRotate,
		OperationSplit:     s.executeSplit,
		OperationReorder:   s.executeReorder,
		OperationEncrypt:   s.executeEncrypt,
		OperationWatermark: s.executeWatermark,
	}
	return s, nil
}

// Operations は利用可能な処理の一覧を返します。
func Operations() []OperationType {
	return []OperationType{
		OperationOptimize,
		OperationRotate,
		OperationSplit,
		OperationReorder,
		OperationEncrypt,
		OperationWatermark,
	}
}

// Operation は指定された処理を実行する batch.Operation を返します。
// 入力は Source、オプションは Options (または JSON) を受け付け、結果は *Result です。
func (s *Service) Operation(op OperationType) (batch.Operation, error) {
	exec, ok := s.executors[op]
	if !ok {
		return nil, newError("INVALID_INPUT", fmt.Sprintf("未対応の処理です: %s", op), nil)
	}
	return func(ctx context.Context, input, options any, progress batch.ProgressFunc) (any, error) {
		return s.run(ctx, op, exec, input, options, progress)
	}, nil
}

func (s *Service) run(ctx context.Context, op OperationType, exec executor, input, options any, progress batch.ProgressFunc) (_ *Result, err error) {
	src, err := sourceFrom(input)
	if err != nil {
		return nil, err
	}
	opts, err := optionsFrom(options)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := s.createWorkspace(op)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.store.Remove(ws.dir)
		}
	}()
	reportProgress(progress, progressLoaded)

	started := s.now()
	result, err := exec(ctx, ws, src, opts, progress)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"file":      src.Name(),
		}).Warn("pdf operation failed")
		return nil, err
	}
	reportProgress(progress, progressProcessed)

	size, err := statOutput(result.OutputPath)
	if err != nil {
		return nil, err
	}
	result.Operation = op
	result.OutputSize = size
	dir := ws.dir
	result.cleanup = func() error { return s.store.Remove(dir) }
	s.store.Expire(dir)

	s.logger.WithFields(logrus.Fields{
		"operation": op,
		"file":      src.Name(),
		"output":    result.OutputFilename,
		"size":      size,
		"elapsed":   s.now().Sub(started).String(),
	}).Debug("pdf operation completed")

	reportProgress(progress, progressDone)
	return result, nil
}
