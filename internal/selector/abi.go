package selector

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Function is one callable entry extracted from a contract ABI.
type Function struct {
	Name      string   `json:"name"`
	Signature string   `json:"signature"`
	Selector  Selector `json:"selector"`
}

// FromABI extracts every function of a Solidity JSON ABI. It accepts either
// the bare ABI array or a compiler artifact object carrying an "abi" field.
// Tuple parameters are expanded into their canonical "(t1,t2)" form.
func FromABI(data []byte) ([]Function, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("selector: abi is not valid JSON")
	}
	abi := gjson.ParseBytes(data)
	if abi.IsObject() {
		abi = abi.Get("abi")
	}
	if !abi.IsArray() {
		return nil, fmt.Errorf("selector: abi must be a JSON array")
	}

	var (
		fns []Function
		err error
	)
	abi.ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("type").String() != "function" {
			return true
		}
		name := entry.Get("name").String()
		if name == "" {
			err = fmt.Errorf("selector: function entry without a name")
			return false
		}
		sig := name + "(" + canonicalParams(entry.Get("inputs")) + ")"
		fns = append(fns, Function{Name: name, Signature: sig, Selector: FromSignature(sig)})
		return true
	})
	if err != nil {
		return nil, err
	}
	return fns, nil
}

func canonicalParams(params gjson.Result) string {
	var types []string
	params.ForEach(func(_, p gjson.Result) bool {
		types = append(types, canonicalType(p))
		return true
	})
	return strings.Join(types, ",")
}

func canonicalType(param gjson.Result) string {
	typ := param.Get("type").String()
	if !strings.HasPrefix(typ, "tuple") {
		return typ
	}
	// "tuple", "tuple[]", "tuple[3][]" keep their array suffix.
	return "(" + canonicalParams(param.Get("components")) + ")" + strings.TrimPrefix(typ, "tuple")
}
