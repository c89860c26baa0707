package parity

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/ops"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Config is fixed for the lifetime of a Harness.
type Config struct {
	// Reference and Target are device ids resolved through device.Open.
	Reference string
	Target    string

	ReferenceDevice device.Config
	TargetDevice    device.Config

	// Seed is combined with the suite name and case index to seed each case.
	Seed uint64

	// Tolerance and GradTolerance override suite and default bounds per kind.
	Tolerance     ToleranceSpec
	GradTolerance ToleranceSpec

	// Parallelism bounds the number of cases in flight. Zero means one.
	Parallelism int

	// FailFast stops scheduling cases of a suite after the first failure.
	FailFast bool
}

func DefaultConfig() Config {
	return Config{
		Reference:   device.CPUName,
		Target:      device.AccelName,
		Seed:        1,
		Parallelism: 1,
	}
}

// Opener opens a device session.
type Opener func(id string, cfg device.Config) (device.Backend, error)

// Harness runs cases of a suite on a reference and a target backend.
type Harness struct {
	cfg    Config
	logger zerolog.Logger
	cache  cache.OutputCache
	open   Opener
}

type Option func(*Harness)

func WithLogger(l zerolog.Logger) Option { return func(h *Harness) { h.logger = l } }

// WithCache reuses reference outputs across runs sharing the reference device and seed.
func WithCache(c cache.OutputCache) Option { return func(h *Harness) { h.cache = c } }

// WithOpener replaces device.Open.
func WithOpener(o Opener) Option { return func(h *Harness) { h.open = o } }

func New(cfg Config, opts ...Option) *Harness {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	h := &Harness{cfg: cfg, logger: zerolog.Nop(), open: device.Open}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Harness) Config() Config { return h.cfg }

// RunOnBackend uploads operands to b, runs op and reads the outputs back.
func RunOnBackend(ctx context.Context, op ops.Operation, operands []*tensor.Buffer, b device.Backend, params device.Attrs) (OutputSet, error) {
	in, err := bind(b, op.Name(), operands)
	if err != nil {
		return nil, err
	}
	out, err := op.Forward(ctx, b, in, params)
	if err != nil {
		return nil, classify(b.Name(), op.Name(), err)
	}
	b.Synchronize()
	return readBack(out), nil
}

// RunWithGradients runs op forward, seeds every output gradient with ones and runs backward.
// The forward and backward graph lives only for this call.
func RunWithGradients(ctx context.Context, op ops.Differentiable, operands []*tensor.Buffer, b device.Backend, params device.Attrs) (forward, grads OutputSet, err error) {
	in, err := bind(b, op.Name(), operands)
	if err != nil {
		return nil, nil, err
	}
	out, err := op.Forward(ctx, b, in, params)
	if err != nil {
		return nil, nil, classify(b.Name(), op.Name(), err)
	}
	upstream := make([]device.Tensor, len(out))
	for i, o := range out {
		ones, err := tensor.Full(o.Shape(), o.Kind(), 1)
		if err != nil {
			return nil, nil, &BackendExecutionError{Backend: b.Name(), Op: op.Name(), Err: err}
		}
		if upstream[i], err = b.Upload(ones); err != nil {
			return nil, nil, classify(b.Name(), op.Name(), err)
		}
	}
	g, err := op.Backward(ctx, b, in, out, upstream, params)
	if err != nil {
		return nil, nil, classify(b.Name(), op.Name()+" backward", err)
	}
	b.Synchronize()
	return readBack(out), readBack(g), nil
}

func bind(b device.Backend, op string, operands []*tensor.Buffer) ([]device.Tensor, error) {
	in := make([]device.Tensor, len(operands))
	for i, buf := range operands {
		t, err := b.Upload(buf)
		if err != nil {
			return nil, classify(b.Name(), op, err)
		}
		in[i] = t
	}
	return in, nil
}

func readBack(ts []device.Tensor) OutputSet {
	out := make(OutputSet, len(ts))
	for i, t := range ts {
		if t != nil {
			out[i] = t.ToHost()
		}
	}
	return out
}

func classify(backend, op string, err error) error {
	var ue *device.UnsupportedError
	if errors.As(err, &ue) {
		return &UnsupportedOperationError{Backend: backend, Op: op, Kind: ue.Kind, Err: err}
	}
	return &BackendExecutionError{Backend: backend, Op: op, Err: err}
}

// RunCase synthesizes the operands of c once, runs them on the reference and then on the target,
// and compares. Forward outputs are compared first; gradients only when they pass.
func (h *Harness) RunCase(ctx context.Context, s *Suite, c Case) (res ComparisonResult) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "parity.case", trace.WithAttributes(
		attribute.String("suite", s.Name),
		attribute.Int("case", c.Index),
	))
	defer func() {
		res.Suite, res.Case, res.Duration = s.Name, c, time.Since(start)
		span.SetAttributes(attribute.String("verdict", res.Verdict.String()))
		if res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		casesTotal.WithLabelValues(s.Name, res.Verdict.String()).Inc()
		caseDuration.Observe(res.Duration.Seconds())
		h.logResult(res)
	}()
	return h.runCase(ctx, s, c)
}

func (h *Harness) runCase(ctx context.Context, s *Suite, c Case) ComparisonResult {
	op, err := s.operation(c)
	if err != nil {
		return failed(ExecutionFailure, err)
	}
	var diffOp ops.Differentiable
	if s.Backward {
		d, ok := op.(ops.Differentiable)
		if !ok {
			return failed(ExecutionFailure, errors.Errorf("operation %s has no backward pass", op.Name()))
		}
		diffOp = d
	}
	specs, err := s.Operands(c)
	if err != nil {
		return failed(SynthesisFailure, &SynthesisError{Operand: "operands", Err: err})
	}
	rng := rand.New(rand.NewPCG(h.cfg.Seed, caseSeed(s.Name, c.Index)))
	operands, err := SynthesizeAll(specs, rng)
	if err != nil {
		return failed(SynthesisFailure, err)
	}
	params := s.params(c)

	refFwd, refGrad, err := h.runReference(ctx, s, c, op, diffOp, operands, params)
	if err != nil {
		return failedRun(err)
	}

	targetOperands := operands
	if tk := s.targetKind(c); tk != tensor.Invalid {
		// downcast strictly after the reference has run on full-precision operands
		refFwd, refGrad = castFloats(refFwd, tk), castFloats(refGrad, tk)
		targetOperands = castFloats(operands, tk)
	}

	tgtCfg := h.cfg.TargetDevice
	if s.ConfigureTarget != nil {
		tgtCfg = s.ConfigureTarget(tgtCfg)
	}
	tgtFwd, tgtGrad, err := h.execute(ctx, h.cfg.Target, tgtCfg, op, diffOp, targetOperands, params)
	if err != nil {
		return failedRun(err)
	}

	res := Compare(refFwd, tgtFwd, DefaultTolerance().Merge(s.Tolerance).Merge(h.cfg.Tolerance))
	res.Phase = PhaseForward
	if !res.Passed() || diffOp == nil {
		return res
	}
	grad := Compare(refGrad, tgtGrad, DefaultGradTolerance().Merge(s.GradTolerance).Merge(h.cfg.GradTolerance))
	grad.Phase = PhaseBackward
	grad.ForwardMaxAbsDiff = res.MaxAbsDiff
	return grad
}

func (h *Harness) runReference(ctx context.Context, s *Suite, c Case, op ops.Operation, diffOp ops.Differentiable, operands []*tensor.Buffer, params device.Attrs) (OutputSet, OutputSet, error) {
	key := fmt.Sprintf("%s/%+v/%s/%d/%d", h.cfg.Reference, h.cfg.ReferenceDevice, s.Name, c.Index, h.cfg.Seed)
	if h.cache != nil {
		fwd, ok := h.cache.Get(key + "/forward")
		grad, gok := h.cache.Get(key + "/backward")
		if ok && (diffOp == nil || gok) {
			referenceCacheHits.Inc()
			return fwd, grad, nil
		}
	}
	fwd, grad, err := h.execute(ctx, h.cfg.Reference, h.cfg.ReferenceDevice, op, diffOp, operands, params)
	if err != nil {
		return nil, nil, err
	}
	if h.cache != nil {
		h.cache.Put(key+"/forward", fwd)
		if grad != nil {
			h.cache.Put(key+"/backward", grad)
		}
	}
	return fwd, grad, nil
}

// execute opens a fresh session on id, runs the case and closes the session.
func (h *Harness) execute(ctx context.Context, id string, cfg device.Config, op ops.Operation, diffOp ops.Differentiable, operands []*tensor.Buffer, params device.Attrs) (OutputSet, OutputSet, error) {
	b, err := h.open(id, cfg)
	if err != nil {
		return nil, nil, &BackendExecutionError{Backend: id, Op: op.Name(), Err: err}
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			h.logger.Warn().Err(cerr).Str("device", id).Msg("Failed to close backend session")
		}
	}()
	if diffOp != nil {
		return RunWithGradients(ctx, diffOp, operands, b, params)
	}
	fwd, err := RunOnBackend(ctx, op, operands, b, params)
	return fwd, nil, err
}

func castFloats(bufs []*tensor.Buffer, kind tensor.Kind) []*tensor.Buffer {
	if bufs == nil {
		return nil
	}
	out := make([]*tensor.Buffer, len(bufs))
	for i, b := range bufs {
		if b != nil && b.Kind().IsFloat() {
			out[i] = b.Cast(kind)
		} else {
			out[i] = b
		}
	}
	return out
}

func failed(v Verdict, err error) ComparisonResult {
	return ComparisonResult{Verdict: v, Output: -1, Err: err}
}

func failedRun(err error) ComparisonResult {
	var ue *UnsupportedOperationError
	if errors.As(err, &ue) {
		return failed(Unsupported, err)
	}
	return failed(ExecutionFailure, err)
}

// caseSeed derives the per-case stream so cases are reproducible in any order and in parallel.
func caseSeed(suite string, index int) uint64 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(suite))
	return f.Sum64() ^ (uint64(index)+1)*0x9e3779b97f4a7c15
}

func (h *Harness) logResult(res ComparisonResult) {
	var ev *zerolog.Event
	switch res.Verdict {
	case Pass:
		ev = h.logger.Debug()
	case Unsupported:
		ev = h.logger.Info()
	default:
		ev = h.logger.Warn()
	}
	ev = ev.Str("suite", res.Suite).Str("case", res.Case.String()).Str("verdict", res.Verdict.String()).
		Dur("duration", res.Duration)
	if res.Phase != "" {
		ev = ev.Str("phase", string(res.Phase)).Float64("max_abs_diff", res.MaxAbsDiff)
	}
	if res.Verdict == ToleranceViolation {
		ev = ev.Ints("index", res.Index).Int("output", res.Output).
			Float64("reference", res.Reference).Float64("candidate", res.Candidate)
	}
	if res.Err != nil {
		ev = ev.Err(res.Err)
	}
	ev.Msg("Case finished")
}
