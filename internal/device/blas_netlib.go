//go:build cgo && netlib

package device

// Registers the netlib BLAS implementation, which uses the system BLAS (Accelerate on macOS,
// OpenBLAS on Linux). The reference backend's gonum matrix products pick it up.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas64.Use(netlib.Implementation{})
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS acceleration enabled (netlib)")
}
