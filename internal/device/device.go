package device

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Tensor is a device-resident tensor. Its data is only reachable from the host through ToHost.
type Tensor interface {
	// Shape returns the dimensions of the tensor.
	Shape() tensor.Shape

	// Kind returns the element kind.
	Kind() tensor.Kind

	// Device returns the name of the backend holding the tensor.
	Device() string

	// ToHost copies the data back into a host buffer.
	ToHost() *tensor.Buffer
}

// Backend creates tensors and executes named kernels on them.
type Backend interface {
	Name() string

	// Upload copies a host buffer onto the device.
	Upload(buf *tensor.Buffer) (Tensor, error)

	// Launch runs the kernel op on inputs, which must all live on this backend.
	// A kernel the backend lacks for the inputs' kinds yields an *UnsupportedError.
	Launch(ctx context.Context, op string, inputs []Tensor, attrs Attrs) ([]Tensor, error)

	// Supports reports whether op has a kernel for kind on this backend.
	Supports(op string, kind tensor.Kind) bool

	// Synchronize blocks until all queued work is complete.
	Synchronize()

	// Close releases the session.
	Close() error
}

// Config is fixed when a backend is opened and never changes afterwards.
type Config struct {
	// Workers bounds kernel parallelism. Zero means runtime.NumCPU().
	Workers int

	// FuseNormalization enables the fused batch_norm_relu kernel on backends that have one.
	FuseNormalization bool

	// Unsupported lists kernels to withhold, as "op" or "op:kind".
	// "upload:kind" withholds a whole element kind.
	Unsupported []string
}

var (
	ErrUnsupported       = errors.New("operation not supported on device")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrDeviceUnavailable = errors.New("device unavailable in this build")
)

// UnsupportedError reports a kernel, kind or shape the backend has no implementation for.
type UnsupportedError struct {
	Device string
	Op     string
	Kind   tensor.Kind
	Reason string
}

func (e *UnsupportedError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Device, e.Op)
	if e.Kind != tensor.Invalid {
		msg += fmt.Sprintf(" (%s)", e.Kind)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + ": " + ErrUnsupported.Error()
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Attrs carries scalar kernel parameters.
type Attrs map[string]any

// Int returns the named integer attribute or def.
func (a Attrs) Int(name string, def int) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the named float attribute or def.
func (a Attrs) Float(name string, def float64) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

// Bool returns the named boolean attribute or def.
func (a Attrs) Bool(name string, def bool) bool {
	if v, ok := a[name].(bool); ok {
		return v
	}
	return def
}

// Str returns the named string attribute or def.
func (a Attrs) Str(name, def string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return def
}

// Ints returns the named integer list attribute, or nil.
func (a Attrs) Ints(name string) []int {
	switch v := a[name].(type) {
	case []int:
		return v
	case tensor.Shape:
		return v
	case []int64:
		out := make([]int, len(v))
		for i, x := range v {
			out[i] = int(x)
		}
		return out
	}
	return nil
}

// Kind returns the named element-kind attribute or def.
func (a Attrs) Kind(name string, def tensor.Kind) tensor.Kind {
	if v, ok := a[name].(tensor.Kind); ok {
		return v
	}
	return def
}
