package diamond

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/storage"
)

// ErrAlreadyDeployed is returned when deploying onto an occupied handle.
var ErrAlreadyDeployed = errors.New("code already deployed at handle")

// Call is one invocation of module code. Storage is the calling diamond's
// storage context, not the module's own: modules run delegate-style.
type Call struct {
	Diamond util.Uint160
	Sender  util.Uint160
	Input   []byte
	Storage storage.Store
}

// Module is deployed code addressable by a handle.
type Module interface {
	Invoke(ctx context.Context, call *Call) ([]byte, error)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, call *Call) ([]byte, error)

// Invoke calls f.
func (f ModuleFunc) Invoke(ctx context.Context, call *Call) ([]byte, error) {
	return f(ctx, call)
}

// CodeTable resolves handles to deployed code.
type CodeTable interface {
	// HasCode reports whether code lives at h.
	HasCode(h util.Uint160) bool
	// Module returns the code at h.
	Module(h util.Uint160) (Module, bool)
}

// Environment is the execution environment a diamond is deployed into.
type Environment interface {
	CodeTable
	DeployAt(h util.Uint160, m Module) error
}

// Host is an in-process Environment: a table of deployed modules.
type Host struct {
	mu   sync.RWMutex
	code map[util.Uint160]Module
}

var _ Environment = (*Host)(nil)

// NewHost creates an empty host.
func NewHost() *Host {
	return &Host{code: make(map[util.Uint160]Module)}
}

// HandleFor derives the deterministic handle of code deployed under name.
func HandleFor(name string) util.Uint160 {
	return hash.Hash160([]byte(name))
}

// Deploy places m at HandleFor(name) and returns the handle.
func (h *Host) Deploy(name string, m Module) (util.Uint160, error) {
	handle := HandleFor(name)
	if err := h.DeployAt(handle, m); err != nil {
		return util.Uint160{}, fmt.Errorf("deploy %q: %w", name, err)
	}
	return handle, nil
}

// DeployAt places m at handle.
func (h *Host) DeployAt(handle util.Uint160, m Module) error {
	if handle == (util.Uint160{}) {
		return fmt.Errorf("deploy at zero handle")
	}
	if m == nil {
		return fmt.Errorf("deploy nil module at 0x%s", handle.StringLE())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.code[handle]; exists {
		return fmt.Errorf("%w: 0x%s", ErrAlreadyDeployed, handle.StringLE())
	}
	h.code[handle] = m
	return nil
}

// Destroy removes the code at handle. Routes pointing at it stay in place
// but every call through them fails.
func (h *Host) Destroy(handle util.Uint160) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.code, handle)
}

// HasCode implements CodeTable.
func (h *Host) HasCode(handle util.Uint160) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.code[handle]
	return ok
}

// Module implements CodeTable.
func (h *Host) Module(handle util.Uint160) (Module, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.code[handle]
	return m, ok
}

type senderKey struct{}

// WithSender attaches the calling account to ctx.
func WithSender(ctx context.Context, sender util.Uint160) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// SenderFrom returns the calling account attached to ctx, or zero.
func SenderFrom(ctx context.Context) util.Uint160 {
	s, _ := ctx.Value(senderKey{}).(util.Uint160)
	return s
}
