package pdf

import (
	"fmt"
	"os"
	"path/filepath"
)

type workspace struct {
	dir    string
	outDir string
}

func (w workspace) output(name string) string {
	return filepath.Join(w.outDir, name)
}

func (s *Service) createWorkspace(op OperationType) (workspace, error) {
	dir, err := s.store.CreateDir(string(op))
	if err != nil {
		return workspace{}, err
	}
	ws := workspace{dir: dir, outDir: filepath.Join(dir, "out")}
	if err := os.MkdirAll(ws.outDir, 0o750); err != nil {
		_ = s.store.Remove(dir)
		return workspace{}, fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}
	return ws, nil
}

func statOutput(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}
	return info.Size(), nil
}
