// Package jsvm configures sandboxed goja runtimes for condition blocks and
// for the function_execute tool that runs function blocks (spec.md §4.4).
// It is grounded on the
// teacher's internal/service/workflow/goja.go SetupGojaVM/registerGojaHelpers,
// generalized with an interrupt-based execution timeout, which the teacher's
// version did not have.
package jsvm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
)

// VarLookup resolves a secret/environment variable name to its plaintext
// value, exposed to scripts as getVar(key).
type VarLookup func(key string) (string, error)

// LookupFromEnvironment builds a VarLookup backed by a decrypted
// environment map, failing with flowerrors.ErrMissingEnvironmentVariable
// for any name not present (spec.md §4.2).
func LookupFromEnvironment(env map[string]string) VarLookup {
	return func(key string) (string, error) {
		v, ok := env[key]
		if !ok {
			return "", fmt.Errorf("%w: %q", flowerrors.ErrMissingEnvironmentVariable, key)
		}
		return v, nil
	}
}

// New builds a goja runtime with the standard helper globals (toString,
// jsonParse, btoa, atob) plus every key in inputs set as a global variable.
// If lookup is non-nil, getVar(key) is also registered.
func New(inputs map[string]any, lookup VarLookup) (*goja.Runtime, error) {
	vm := goja.New()

	if err := registerHelpers(vm); err != nil {
		return nil, err
	}

	if lookup != nil {
		if err := vm.Set("getVar", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				panic(vm.NewTypeError("getVar: key is required"))
			}
			val, err := lookup(call.Arguments[0].String())
			if err != nil {
				panic(vm.NewTypeError(fmt.Sprintf("getVar: %v", err)))
			}
			return vm.ToValue(val)
		}); err != nil {
			return nil, err
		}
	}

	for k, v := range inputs {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("jsvm: set %q: %w", k, err)
		}
	}

	return vm, nil
}

// RunWithTimeout runs src on vm, interrupting it if it runs longer than
// timeout (spec.md §4.4: function and condition blocks are bounded by a
// per-block execution timeout). A timeout <= 0 disables the bound.
func RunWithTimeout(vm *goja.Runtime, src string, timeout time.Duration) (goja.Value, error) {
	if timeout <= 0 {
		return vm.RunString(src)
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(fmt.Sprintf("script exceeded timeout of %s", timeout))
	})
	defer timer.Stop()

	return vm.RunString(src)
}

func registerHelpers(vm *goja.Runtime) error {
	if err := vm.Set("toString", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			return vm.ToValue(string(v))
		case string:
			return vm.ToValue(v)
		default:
			return vm.ToValue(fmt.Sprintf("%v", v))
		}
	}); err != nil {
		return err
	}

	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		var raw []byte
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			panic(vm.NewTypeError("jsonParse: expected string or bytes"))
		}
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			panic(vm.NewTypeError("jsonParse: " + err.Error()))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}

	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		var raw []byte
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			panic(vm.NewTypeError("btoa: expected string or bytes"))
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString(raw))
	}); err != nil {
		return err
	}

	if err := vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue([]byte{})
		}
		decoded, err := base64.StdEncoding.DecodeString(call.Arguments[0].String())
		if err != nil {
			panic(vm.NewTypeError("atob: " + err.Error()))
		}
		return vm.ToValue(decoded)
	}); err != nil {
		return err
	}

	return vm.Set("JSON_stringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	})
}
