package pdf

import (
	"io"
	"os"
	"sync"
)

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationOptimize  OperationType = "optimize"
	OperationRotate    OperationType = "rotate"
	OperationSplit     OperationType = "split"
	OperationReorder   OperationType = "reorder"
	OperationEncrypt   OperationType = "encrypt"
	OperationWatermark OperationType = "watermark"
)

// OptimizePreset は圧縮プリセットの種類を表します。
type OptimizePreset string

const (
	OptimizePresetStandard   OptimizePreset = "standard"
	OptimizePresetAggressive OptimizePreset = "aggressive"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// Result はPDF処理の成果を表します。bundle.Artifact を満たします。
type Result struct {
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"-"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	Meta           any           `json:"meta,omitempty"`

	cleanup     func() error
	cleanupOnce sync.Once
	cleanupErr  error
}

// Filename は成果物のファイル名を返します。
func (r *Result) Filename() string {
	return r.OutputFilename
}

// Open は成果物ファイルを開きます。
func (r *Result) Open() (io.ReadCloser, error) {
	return os.Open(r.OutputPath)
}

// ContentType は成果物の MIME タイプを返します。
func (r *Result) ContentType() string {
	switch r.ResultKind {
	case ResultKindPDF:
		return "application/pdf"
	case ResultKindZIP:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		if r.cleanup != nil {
			r.cleanupErr = r.cleanup()
		}
	})
	return r.cleanupErr
}

// SourceFileMeta は入力ファイルの情報です。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// RotateMeta は回転処理のメタデータです。
type RotateMeta struct {
	Source   SourceFileMeta `json:"source"`
	Rotation int            `json:"rotation"`
	Pages    []string       `json:"pages,omitempty"`
}

// ReorderMeta はページ順入替処理のメタデータです。
type ReorderMeta struct {
	Original SourceFileMeta `json:"original"`
	Order    []int          `json:"order"`
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Ranges   []PageRange    `json:"ranges"`
	Parts    []SplitPart    `json:"parts"`
}

// PageRange は分割対象のページ範囲を表します（Start/Endは1-based, End>=Start）。
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	FromPage int    `json:"fromPage"`
	ToPage   int    `json:"toPage"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
}

// OptimizeMeta は圧縮処理のメタデータです。
type OptimizeMeta struct {
	OriginalSize int64          `json:"originalSize"`
	OutputSize   int64          `json:"outputSize"`
	SavedBytes   int64          `json:"savedBytes"`
	SavedPercent float64        `json:"savedPercent"`
	Preset       OptimizePreset `json:"preset"`
	Engine       string         `json:"engine"`
	Source       SourceFileMeta `json:"source"`
}

// EncryptMeta は暗号化処理のメタデータです。
type EncryptMeta struct {
	Source    SourceFileMeta `json:"source"`
	Algorithm string         `json:"algorithm"`
	KeyLength int            `json:"keyLength"`
}

// WatermarkMeta は透かし処理のメタデータです。
type WatermarkMeta struct {
	Source SourceFileMeta `json:"source"`
	Text   string         `json:"text"`
	Pages  []string       `json:"pages,omitempty"`
}
