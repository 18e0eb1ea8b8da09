// Package script runs JavaScript facets on the goja runtime.
//
// A script defines handle(input), receiving the calldata as a 0x-prefixed
// hex string, and returns its output the same way (or nothing). The runtime
// provides:
//
//	msg.sender, msg.diamond      calling account and diamond, 0x hex
//	storage.get(slot)            cell value as hex, or null
//	storage.put(slot, value)     write a cell
//	storage.del(slot)            clear a cell
//	slot(namespace[, n])         base slot of namespace, plus n
//	mapping(slot, key)           slot of key in the mapping at slot
//	keccak(hex)                  Keccak-256 digest
//	call(calldata)               call back into the diamond
//	revert([payload])            abort with a revert payload
//	console.log(...)             debug log
//
// Storage is the calling diamond's storage. revert and failed calls abort
// the script even if it catches the exception.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/crypto"
	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/hexutil"
	"github.com/R3E-Network/diamond_layer/internal/logging"
	"github.com/R3E-Network/diamond_layer/internal/storage"
)

const (
	// EntryPoint is the function every script must define.
	EntryPoint = "handle"
	// MaxScriptSize bounds the source length.
	MaxScriptSize = 1 << 20
	// DefaultTimeout bounds one invocation when the context has no deadline.
	DefaultTimeout = 5 * time.Second
)

// ErrTimeout is returned when a script runs past its deadline.
var ErrTimeout = errors.New("script: execution timeout")

// Dispatcher routes calldata through a diamond.
type Dispatcher interface {
	Call(ctx context.Context, input []byte) ([]byte, error)
}

// Options configures a script facet.
type Options struct {
	Timeout time.Duration
	Logger  *logging.Logger
	// Diamond serves call(); without it call() reverts.
	Diamond Dispatcher
}

// Facet is a compiled script. It is safe for concurrent use: every
// invocation runs in a fresh runtime.
type Facet struct {
	name    string
	program *goja.Program
	timeout time.Duration
	log     *logging.Logger
	diamond Dispatcher
}

var _ diamond.Module = (*Facet)(nil)

// Compile parses source and checks it defines the entry point.
func Compile(name, source string, opts Options) (*Facet, error) {
	if len(source) > MaxScriptSize {
		return nil, fmt.Errorf("script %s: exceeds maximum size of %d bytes", name, MaxScriptSize)
	}
	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	f := &Facet{
		name:    name,
		program: program,
		timeout: opts.Timeout,
		log:     opts.Logger.WithField("script", name),
		diamond: opts.Diamond,
	}

	// Load the script once against scratch storage to catch top-level errors.
	// The scratch copy has no diamond, so top-level code cannot dispatch.
	scratch := *f
	scratch.diamond = nil
	rt := &runtime{
		ctx:   context.Background(),
		vm:    goja.New(),
		call:  &diamond.Call{Storage: storage.NewJournal(storage.NewRoot(storage.NewMemory(), util.Uint160{}))},
		facet: &scratch,
	}
	timer := time.AfterFunc(f.timeout, func() { rt.vm.Interrupt("execution timeout") })
	defer timer.Stop()
	if err := rt.bind(); err != nil {
		return nil, fmt.Errorf("script %s: %w", name, err)
	}
	if _, err := rt.vm.RunProgram(program); err != nil {
		return nil, rt.failure(err)
	}
	if rt.fault != nil {
		return nil, rt.fault
	}
	if _, ok := goja.AssertFunction(rt.vm.Get(EntryPoint)); !ok {
		return nil, fmt.Errorf("script %s: entry point %q is not a function", name, EntryPoint)
	}
	return f, nil
}

// Name returns the script name.
func (f *Facet) Name() string {
	return f.name
}

// Invoke implements diamond.Module.
func (f *Facet) Invoke(ctx context.Context, call *diamond.Call) ([]byte, error) {
	vm := goja.New()

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	rt := &runtime{ctx: ctx, vm: vm, call: call, facet: f}
	if err := rt.bind(); err != nil {
		return nil, fmt.Errorf("script %s: %w", f.name, err)
	}

	if _, err := vm.RunProgram(f.program); err != nil {
		return nil, rt.failure(err)
	}
	entry, ok := goja.AssertFunction(vm.Get(EntryPoint))
	if !ok {
		return nil, fmt.Errorf("script %s: entry point %q is not a function", f.name, EntryPoint)
	}
	result, err := entry(goja.Undefined(), vm.ToValue(hexutil.Encode(call.Input)))
	if err != nil {
		return nil, rt.failure(err)
	}
	if rt.fault != nil {
		return nil, rt.fault
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	out, err := hexutil.Decode(result.String())
	if err != nil {
		return nil, fmt.Errorf("script %s: result: %w", f.name, err)
	}
	return out, nil
}

// runtime is the per-invocation binding between a goja VM and a call.
type runtime struct {
	ctx   context.Context
	vm    *goja.Runtime
	call  *diamond.Call
	facet *Facet

	// fault is the first revert or failed host call; it wins over whatever
	// the script does afterwards.
	fault error
}

func (rt *runtime) failure(err error) error {
	if rt.fault != nil {
		return rt.fault
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("script %s: %w", rt.facet.name, ErrTimeout)
	}
	return fmt.Errorf("script %s: %w", rt.facet.name, err)
}

// abort records err as the invocation's fault and throws into the script.
func (rt *runtime) abort(err error) {
	if rt.fault == nil {
		rt.fault = err
	}
	panic(rt.vm.NewGoError(err))
}

// throw raises a script-level error the script may catch.
func (rt *runtime) throw(format string, args ...interface{}) {
	panic(rt.vm.NewTypeError(fmt.Sprintf(format, args...)))
}

func (rt *runtime) bytesArg(c goja.FunctionCall, i int) []byte {
	b, err := hexutil.Decode(c.Argument(i).String())
	if err != nil {
		rt.throw("argument %d: %v", i, err)
	}
	return b
}

func (rt *runtime) slotArg(c goja.FunctionCall, i int) storage.Slot {
	s, err := storage.ParseSlot(c.Argument(i).String())
	if err != nil {
		rt.throw("argument %d: %v", i, err)
	}
	return s
}

func (rt *runtime) bind() error {
	vm := rt.vm

	msg := vm.NewObject()
	if err := msg.Set("sender", "0x"+rt.call.Sender.StringLE()); err != nil {
		return err
	}
	if err := msg.Set("diamond", "0x"+rt.call.Diamond.StringLE()); err != nil {
		return err
	}

	store := vm.NewObject()
	_ = store.Set("get", func(c goja.FunctionCall) goja.Value {
		v, err := rt.call.Storage.Get(rt.ctx, rt.slotArg(c, 0))
		if err != nil {
			rt.abort(err)
		}
		if v == nil {
			return goja.Null()
		}
		return vm.ToValue(hexutil.Encode(v))
	})
	_ = store.Set("put", func(c goja.FunctionCall) goja.Value {
		if err := rt.call.Storage.Put(rt.ctx, rt.slotArg(c, 0), rt.bytesArg(c, 1)); err != nil {
			rt.abort(err)
		}
		return goja.Undefined()
	})
	_ = store.Set("del", func(c goja.FunctionCall) goja.Value {
		if err := rt.call.Storage.Delete(rt.ctx, rt.slotArg(c, 0)); err != nil {
			rt.abort(err)
		}
		return goja.Undefined()
	})

	console := vm.NewObject()
	_ = console.Set("log", func(c goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(c.Arguments))
		for i, arg := range c.Arguments {
			args[i] = arg.Export()
		}
		rt.facet.log.Debug(fmt.Sprint(args...))
		return goja.Undefined()
	})

	globals := map[string]interface{}{
		"msg":     msg,
		"storage": store,
		"console": console,
		"slot": func(c goja.FunctionCall) goja.Value {
			ns := c.Argument(0).String()
			if ns == "" {
				rt.throw("slot: empty namespace")
			}
			var n int64
			if len(c.Arguments) > 1 {
				n = c.Argument(1).ToInteger()
			}
			if n < 0 {
				rt.throw("slot: negative offset %d", n)
			}
			return vm.ToValue(storage.SlotFor(ns).Offset(uint64(n)).String())
		},
		"mapping": func(c goja.FunctionCall) goja.Value {
			return vm.ToValue(rt.slotArg(c, 0).Mapping(rt.bytesArg(c, 1)).String())
		},
		"keccak": func(c goja.FunctionCall) goja.Value {
			sum := crypto.Keccak256(rt.bytesArg(c, 0))
			return vm.ToValue(hexutil.Encode(sum[:]))
		},
		"revert": func(c goja.FunctionCall) goja.Value {
			var payload []byte
			if len(c.Arguments) > 0 && !goja.IsUndefined(c.Argument(0)) {
				payload = rt.bytesArg(c, 0)
			}
			rt.abort(diamond.Revert(payload))
			return goja.Undefined()
		},
		"call": func(c goja.FunctionCall) goja.Value {
			if rt.facet.diamond == nil {
				rt.abort(diamond.Revert(nil))
			}
			out, err := rt.facet.diamond.Call(rt.ctx, rt.bytesArg(c, 0))
			if err != nil {
				rt.abort(err)
			}
			return vm.ToValue(hexutil.Encode(out))
		},
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}
