package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/christopherhwood/plank/location"
	"gopkg.in/yaml.v3"
)

type yamlDecoder struct{ opt Options }

// YAML returns a decoder for single-document YAML. yaml.v3 always rejects
// duplicate mapping keys, whatever OnDuplicateKey says.
func YAML(opt Options) Decoder { return yamlDecoder{opt: opt} }

func (yamlDecoder) Name() string { return "yaml.v3" }

func (d yamlDecoder) Decode(data []byte) (any, error) {
	if err := checkSize(data, d.opt.MaxBytes); err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var node any
	if err := dec.Decode(&node); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, issueErr(CodeParseError, "", "empty document", err)
		}
		return nil, issueErr(CodeParseError, "", err.Error(), err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, issueErr(CodeParseError, "", err.Error(), err)
		}
		return nil, issueErr(CodeParseError, "", "multiple YAML documents in one schema file", nil)
	}
	return normalize(node, "", 0, d.opt.MaxDepth)
}

// normalize converts YAML-decoded values (which may contain map[any]any,
// native ints and timestamps) into the JSON-like shapes the JSON decoder
// produces.
func normalize(v any, path string, depth, maxDepth int) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if err := checkDepth(path, depth+1, maxDepth); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			nv, err := normalize(vv, location.JoinPointer(path, k), depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case map[any]any:
		if err := checkDepth(path, depth+1, maxDepth); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, issueErr(CodeParseError, displayPath(path), fmt.Sprintf("non-string mapping key %v", k), nil)
			}
			nv, err := normalize(vv, location.JoinPointer(path, ks), depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		if err := checkDepth(path, depth+1, maxDepth); err != nil {
			return nil, err
		}
		arr := make([]any, len(t))
		for i := range t {
			nv, err := normalize(t[i], location.JoinPointer(path, strconv.Itoa(i)), depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			arr[i] = nv
		}
		return arr, nil
	case int:
		return json.Number(strconv.Itoa(t)), nil
	case int64:
		return json.Number(strconv.FormatInt(t, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(t, 10)), nil
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return nil, issueErr(CodeParseError, displayPath(path), "non-finite number", nil)
		}
		return json.Number(strconv.FormatFloat(t, 'g', -1, 64)), nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	default:
		return v, nil
	}
}

func checkDepth(path string, depth, maxDepth int) error {
	if maxDepth > 0 && depth > maxDepth {
		return issueErr(CodeTooDeep, displayPath(path), fmt.Sprintf("nesting exceeds %d levels", maxDepth), nil)
	}
	return nil
}
