package diamond

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/hexutil"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

// Sentinel errors matched with errors.Is. Each typed error below unwraps to
// one of them.
var (
	ErrNoCode               = errors.New("no code at handle")
	ErrEmptySelectors       = errors.New("no selectors in cut")
	ErrDuplicateRoute       = errors.New("selector already routed")
	ErrRouteNotFound        = errors.New("selector not routed")
	ErrImmutableRoute       = errors.New("selector is immutable")
	ErrNoOpReplace          = errors.New("replacement facet equals current facet")
	ErrRemoveModuleNotZero  = errors.New("remove facet must be the zero handle")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrUnknownOperation     = errors.New("unknown operation")
	ErrUnknownAction        = errors.New("unknown cut action")
	ErrUnauthorized         = errors.New("sender may not cut")
	ErrReentrantCut         = errors.New("cut already in progress")
)

// Kind returns a stable snake_case label for err, used by metrics and the
// HTTP API. Errors outside the taxonomy are "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCode):
		return "no_code_at_handle"
	case errors.Is(err, ErrEmptySelectors):
		return "empty_identifier_set"
	case errors.Is(err, ErrDuplicateRoute):
		return "duplicate_route"
	case errors.Is(err, ErrRouteNotFound):
		return "route_not_found"
	case errors.Is(err, ErrImmutableRoute):
		return "immutable_route"
	case errors.Is(err, ErrNoOpReplace):
		return "noop_replace"
	case errors.Is(err, ErrRemoveModuleNotZero):
		return "remove_module_must_be_zero"
	case errors.Is(err, ErrInitializationFailed):
		return "initialization_failed"
	case errors.Is(err, ErrUnknownOperation):
		return "unknown_operation"
	case errors.Is(err, ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrReentrantCut):
		return "reentrant_cut"
	default:
		var rev *RevertError
		if errors.As(err, &rev) {
			return "revert"
		}
		return "internal"
	}
}

// NoCodeAtHandleError reports a facet or initializer handle with no code.
// Context names the step that required the code: "add", "replace" or "_init".
type NoCodeAtHandleError struct {
	Handle  util.Uint160
	Context string
}

func (e *NoCodeAtHandleError) Error() string {
	return fmt.Sprintf("diamond: no code at 0x%s (%s)", e.Handle.StringLE(), e.Context)
}

func (e *NoCodeAtHandleError) Unwrap() error { return ErrNoCode }

// EmptyIdentifierSetError reports a cut without selectors.
type EmptyIdentifierSetError struct {
	Facet util.Uint160
}

func (e *EmptyIdentifierSetError) Error() string {
	return fmt.Sprintf("diamond: no selectors in cut for facet 0x%s", e.Facet.StringLE())
}

func (e *EmptyIdentifierSetError) Unwrap() error { return ErrEmptySelectors }

// DuplicateRouteError reports an Add of an already routed selector.
type DuplicateRouteError struct {
	Selector selector.Selector
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("diamond: selector %s already routed", e.Selector)
}

func (e *DuplicateRouteError) Unwrap() error { return ErrDuplicateRoute }

// RouteNotFoundError reports a Replace or Remove of an unrouted selector.
type RouteNotFoundError struct {
	Selector selector.Selector
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("diamond: selector %s not routed", e.Selector)
}

func (e *RouteNotFoundError) Unwrap() error { return ErrRouteNotFound }

// ImmutableRouteError reports a Replace or Remove of a selector the diamond
// implements itself.
type ImmutableRouteError struct {
	Selector selector.Selector
}

func (e *ImmutableRouteError) Error() string {
	return fmt.Sprintf("diamond: selector %s is immutable", e.Selector)
}

func (e *ImmutableRouteError) Unwrap() error { return ErrImmutableRoute }

// NoOpReplaceError reports a Replace onto the facet already serving the
// selector.
type NoOpReplaceError struct {
	Selector selector.Selector
}

func (e *NoOpReplaceError) Error() string {
	return fmt.Sprintf("diamond: selector %s already routed to the replacement facet", e.Selector)
}

func (e *NoOpReplaceError) Unwrap() error { return ErrNoOpReplace }

// RemoveModuleMustBeZeroError reports a Remove cut naming a facet.
type RemoveModuleMustBeZeroError struct {
	Facet util.Uint160
}

func (e *RemoveModuleMustBeZeroError) Error() string {
	return fmt.Sprintf("diamond: remove cut names facet 0x%s, must be zero", e.Facet.StringLE())
}

func (e *RemoveModuleMustBeZeroError) Unwrap() error { return ErrRemoveModuleNotZero }

// InitializationFailedError reports an initializer that failed without a
// revert payload of its own.
type InitializationFailedError struct {
	Init  util.Uint160
	Data  []byte
	Cause error
}

func (e *InitializationFailedError) Error() string {
	msg := fmt.Sprintf("diamond: initializer 0x%s failed with calldata %s", e.Init.StringLE(), hexutil.Encode(e.Data))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *InitializationFailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInitializationFailed}
	}
	return []error{ErrInitializationFailed, e.Cause}
}

// UnknownOperationError reports a call whose selector has no route.
type UnknownOperationError struct {
	Selector selector.Selector
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("diamond: function %s does not exist", e.Selector)
}

func (e *UnknownOperationError) Unwrap() error { return ErrUnknownOperation }

// UnknownActionError reports a cut action outside Add/Replace/Remove.
type UnknownActionError struct {
	Action Action
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("diamond: unknown cut action %d", uint8(e.Action))
}

func (e *UnknownActionError) Unwrap() error { return ErrUnknownAction }

// UnauthorizedError reports a cut submitted by a sender the Authorizer
// rejected.
type UnauthorizedError struct {
	Sender util.Uint160
	Reason string
}

func (e *UnauthorizedError) Error() string {
	msg := fmt.Sprintf("diamond: 0x%s may not cut", e.Sender.StringLE())
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// RevertError is the failure payload a facet returns. The diamond relays it
// to its caller unchanged.
type RevertError struct {
	Data []byte
}

// Revert builds a RevertError carrying data.
func Revert(data []byte) *RevertError {
	return &RevertError{Data: data}
}

func (e *RevertError) Error() string {
	if len(e.Data) == 0 {
		return "execution reverted"
	}
	return "execution reverted: " + hexutil.Encode(e.Data)
}
