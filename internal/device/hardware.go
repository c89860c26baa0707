package device

import "github.com/pkg/errors"

// Hardware device ids. Their native backends are not part of this build.
const (
	MetalName = "metal"
	CUDAName  = "cuda"
)

func unavailable(id string) Factory {
	return func(Config) (Backend, error) {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%s backend requires native bindings", id)
	}
}
