package pdf

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Options は各処理のパラメータです。処理ごとに必要な項目だけを参照します。
type Options struct {
	Preset        OptimizePreset `json:"preset,omitempty"`
	Rotation      int            `json:"rotation,omitempty"`
	Pages         []string       `json:"pages,omitempty"`
	Ranges        string         `json:"ranges,omitempty"`
	Order         []int          `json:"order,omitempty"`
	UserPassword  string         `json:"userPassword,omitempty"`
	OwnerPassword string         `json:"ownerPassword,omitempty"`
	Text          string         `json:"text,omitempty"`
}

// DecodeOptions は JSON 文字列から Options を読み込みます。空文字列はゼロ値になります。
func DecodeOptions(raw string) (Options, error) {
	var opts Options
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return Options{}, newError("INVALID_INPUT", "options は JSON オブジェクトで指定してください。", err)
	}
	return opts, nil
}

func optionsFrom(v any) (Options, error) {
	switch o := v.(type) {
	case nil:
		return Options{}, nil
	case Options:
		return o, nil
	case *Options:
		if o == nil {
			return Options{}, nil
		}
		return *o, nil
	case string:
		return DecodeOptions(o)
	case []byte:
		return DecodeOptions(string(o))
	case json.RawMessage:
		return DecodeOptions(string(o))
	case map[string]any:
		raw, err := json.Marshal(o)
		if err != nil {
			return Options{}, newError("INVALID_INPUT", "options を解釈できません。", err)
		}
		return DecodeOptions(string(raw))
	default:
		return Options{}, newError("INVALID_INPUT", fmt.Sprintf("options の型が不正です (%T)", v), nil)
	}
}
