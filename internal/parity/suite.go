package parity

import (
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/ops"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Suite is a family of cases sharing an operation and a parameter matrix.
type Suite struct {
	Name        string
	Description string
	Matrix      *Matrix

	// Op is the operation under test. SelectOp, when set, picks it per case instead.
	Op       ops.Operation
	SelectOp func(c Case) (ops.Operation, error)

	// Operands returns the operand specs of a case, in the order the operation takes them.
	Operands func(c Case) ([]OperandSpec, error)

	// Params returns the scalar parameters of a case. Nil means none.
	Params func(c Case) device.Attrs

	// Tolerance and GradTolerance override the run defaults per kind.
	Tolerance     ToleranceSpec
	GradTolerance ToleranceSpec

	// Backward also compares input gradients, seeding every output with ones.
	Backward bool

	// TargetKind, when set, runs the target on float operands cast to this kind. Reference
	// outputs are downcast to it after reference execution.
	TargetKind func(c Case) tensor.Kind

	// ConfigureTarget, when set, adjusts the run's target configuration for this suite.
	ConfigureTarget func(cfg device.Config) device.Config
}

// Validate reports a suite that cannot produce cases.
func (s *Suite) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("suite has no name")
	case s.Matrix == nil:
		return errors.Errorf("suite %s has no parameter matrix", s.Name)
	case s.Op == nil && s.SelectOp == nil:
		return errors.Errorf("suite %s has no operation", s.Name)
	case s.Operands == nil:
		return errors.Errorf("suite %s has no operand builder", s.Name)
	}
	return nil
}

func (s *Suite) operation(c Case) (ops.Operation, error) {
	if s.SelectOp != nil {
		return s.SelectOp(c)
	}
	return s.Op, nil
}

func (s *Suite) params(c Case) device.Attrs {
	if s.Params == nil {
		return device.Attrs{}
	}
	return s.Params(c)
}

func (s *Suite) targetKind(c Case) tensor.Kind {
	if s.TargetKind == nil {
		return tensor.Invalid
	}
	return s.TargetKind(c)
}
