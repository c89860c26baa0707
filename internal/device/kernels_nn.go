package device

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// axisLayout splits shape around dim into outer * axis * inner.
func axisLayout(shape tensor.Shape, dim int) (outer, axis, inner int) {
	return shape[:dim].NumElements(), shape[dim], shape[dim+1:].NumElements()
}

// logSoftmaxKernel computes x - logsumexp(x) along attribute dim (default last).
func logSoftmaxKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if x.shape.Rank() == 0 {
		return nil, fmt.Errorf("log_softmax needs rank >= 1")
	}
	dim, err := normalizeDim(attrs.Int("dim", -1), x.shape.Rank())
	if err != nil {
		return nil, err
	}
	outer, axis, inner := axisLayout(x.shape, dim)
	out := e.alloc(x.shape, x.kind)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*axis*inner + i
			maxv := math.Inf(-1)
			for a := 0; a < axis; a++ {
				maxv = math.Max(maxv, float64(x.data[base+a*inner]))
			}
			var s float64
			for a := 0; a < axis; a++ {
				s += math.Exp(float64(x.data[base+a*inner]) - maxv)
			}
			lse := maxv + math.Log(s)
			for a := 0; a < axis; a++ {
				out.data[base+a*inner] = E(float64(x.data[base+a*inner]) - lse)
			}
		}
	}
	return []*dense[E]{out}, nil
}

// logSoftmaxGradKernel takes (dy, y) where y is the forward output: dx = dy - exp(y) * sum(dy).
func logSoftmaxGradKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	dy, y := in[0], in[1]
	if !dy.shape.Equal(y.shape) || y.shape.Rank() == 0 {
		return nil, fmt.Errorf("log_softmax_grad: dy %v and y %v", dy.shape, y.shape)
	}
	dim, err := normalizeDim(attrs.Int("dim", -1), y.shape.Rank())
	if err != nil {
		return nil, err
	}
	outer, axis, inner := axisLayout(y.shape, dim)
	out := e.alloc(y.shape, dy.kind)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*axis*inner + i
			var s E
			for a := 0; a < axis; a++ {
				s += dy.data[base+a*inner]
			}
			for a := 0; a < axis; a++ {
				p := base + a*inner
				out.data[p] = dy.data[p] - E(math.Exp(float64(y.data[p])))*s
			}
		}
	}
	return []*dense[E]{out}, nil
}

// channelValues collects every element of channel c of an [N, C, ...] tensor.
func channelValues[E element](x *dense[E], c int, buf []E) []E {
	outer, channels, inner := axisLayout(x.shape, 1)
	buf = buf[:0]
	for n := 0; n < outer; n++ {
		off := (n*channels + c) * inner
		buf = append(buf, x.data[off:off+inner]...)
	}
	return buf
}

// batchNormKernel normalizes [N, C, ...] per channel.
// Inputs are x, weight, bias and, for inference, running_mean and running_var.
// Outputs are y and the per-channel mean and inverse standard deviation used.
func batchNormKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if len(in) != 3 && len(in) != 5 {
		return nil, fmt.Errorf("batch_norm expects 3 or 5 inputs, got %d", len(in))
	}
	x, w, b := in[0], in[1], in[2]
	if x.shape.Rank() < 2 {
		return nil, fmt.Errorf("batch_norm needs [N, C, ...], got %v", x.shape)
	}
	outer, channels, inner := axisLayout(x.shape, 1)
	for _, p := range in[1:] {
		if p.shape.NumElements() != channels {
			return nil, fmt.Errorf("batch_norm: per-channel parameter %v does not match %d channels", p.shape, channels)
		}
	}
	training := attrs.Bool("training", true)
	if !training && len(in) != 5 {
		return nil, fmt.Errorf("batch_norm: inference needs running_mean and running_var")
	}
	eps := attrs.Float("eps", 1e-5)

	y := e.alloc(x.shape, x.kind)
	mean := e.alloc(tensor.Shape{channels}, x.kind)
	invStd := e.alloc(tensor.Shape{channels}, x.kind)
	buf := make([]E, 0, outer*inner)
	for c := 0; c < channels; c++ {
		var mu, variance E
		if training {
			buf = channelValues(x, c, buf)
			mu, variance = e.meanVar(buf)
		} else {
			mu, variance = in[3].data[c], in[4].data[c]
		}
		is := E(1 / math.Sqrt(float64(variance)+eps))
		mean.data[c], invStd.data[c] = mu, is
		scale, shift := w.data[c]*is, b.data[c]
		for n := 0; n < outer; n++ {
			off := (n*channels + c) * inner
			for i := off; i < off+inner; i++ {
				y.data[i] = (x.data[i]-mu)*scale + shift
			}
		}
	}
	return []*dense[E]{y, mean, invStd}, nil
}

// batchNormGradKernel takes (dy, x, weight, mean, inv_std) and returns dx, dweight, dbias.
func batchNormGradKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 5); err != nil {
		return nil, err
	}
	dy, x, w, mean, invStd := in[0], in[1], in[2], in[3], in[4]
	if !dy.shape.Equal(x.shape) || x.shape.Rank() < 2 {
		return nil, fmt.Errorf("batch_norm_grad: dy %v and x %v", dy.shape, x.shape)
	}
	outer, channels, inner := axisLayout(x.shape, 1)
	training := attrs.Bool("training", true)
	m := E(outer * inner)

	dx := e.alloc(x.shape, dy.kind)
	dw := e.alloc(tensor.Shape{channels}, w.kind)
	db := e.alloc(tensor.Shape{channels}, w.kind)
	for c := 0; c < channels; c++ {
		mu, is := mean.data[c], invStd.data[c]
		var sumDy, sumDyXhat E
		for n := 0; n < outer; n++ {
			off := (n*channels + c) * inner
			for i := off; i < off+inner; i++ {
				sumDy += dy.data[i]
				sumDyXhat += dy.data[i] * (x.data[i] - mu) * is
			}
		}
		db.data[c], dw.data[c] = sumDy, sumDyXhat
		for n := 0; n < outer; n++ {
			off := (n*channels + c) * inner
			for i := off; i < off+inner; i++ {
				if !training {
					dx.data[i] = dy.data[i] * w.data[c] * is
					continue
				}
				xhat := (x.data[i] - mu) * is
				dx.data[i] = w.data[c] * is / m * (m*dy.data[i] - sumDy - xhat*sumDyXhat)
			}
		}
	}
	return []*dense[E]{dx, dw, db}, nil
}

type nllArgs[E element] struct {
	logp, target, weight *dense[E]
	n, classes, ignore   int
	reduction            string
}

func parseNLL[E element](op string, logp, target *dense[E], rest []*dense[E], attrs Attrs) (*nllArgs[E], error) {
	if logp.shape.Rank() != 2 {
		return nil, fmt.Errorf("%s: input must be [N, C], got %v", op, logp.shape)
	}
	a := &nllArgs[E]{
		logp:      logp,
		target:    target,
		n:         logp.shape[0],
		classes:   logp.shape[1],
		ignore:    attrs.Int("ignore_index", -100),
		reduction: attrs.Str("reduction", "mean"),
	}
	if target.shape.Rank() != 1 || target.shape[0] != a.n {
		return nil, fmt.Errorf("%s: target %v does not match batch %d", op, target.shape, a.n)
	}
	if target.kind.IsFloat() {
		return nil, fmt.Errorf("%s: target must be an integer tensor, got %s", op, target.kind)
	}
	for i, v := range target.data {
		t := int(v)
		if t != a.ignore && (t < 0 || t >= a.classes) {
			return nil, fmt.Errorf("%s: target[%d] = %d out of range [0, %d)", op, i, t, a.classes)
		}
	}
	if len(rest) > 0 {
		a.weight = rest[0]
		if a.weight.shape.NumElements() != a.classes {
			return nil, fmt.Errorf("%s: weight %v does not match %d classes", op, a.weight.shape, a.classes)
		}
	}
	switch a.reduction {
	case "mean", "sum", "none":
	default:
		return nil, fmt.Errorf("%s: unknown reduction %q", op, a.reduction)
	}
	return a, nil
}

func (a *nllArgs[E]) classWeight(t int) E {
	if t == a.ignore {
		return 0
	}
	if a.weight == nil {
		return 1
	}
	return a.weight.data[t]
}

func (a *nllArgs[E]) totalWeight() E {
	var total E
	for _, v := range a.target.data {
		total += a.classWeight(int(v))
	}
	return total
}

// nllLossKernel takes (log_probs [N, C], target [N]) and an optional class weight [C].
// Attributes: reduction (mean, sum, none) and ignore_index.
func nllLossKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if len(in) != 2 && len(in) != 3 {
		return nil, fmt.Errorf("nll_loss expects 2 or 3 inputs, got %d", len(in))
	}
	a, err := parseNLL("nll_loss", in[0], in[1], in[2:], attrs)
	if err != nil {
		return nil, err
	}
	per := make([]E, a.n)
	for i, v := range a.target.data {
		t := int(v)
		if t == a.ignore {
			continue
		}
		per[i] = -a.classWeight(t) * a.logp.data[i*a.classes+t]
	}
	if a.reduction == "none" {
		out := e.alloc(tensor.Shape{a.n}, a.logp.kind)
		copy(out.data, per)
		return []*dense[E]{out}, nil
	}
	out := e.alloc(tensor.Shape{}, a.logp.kind)
	out.data[0] = e.sum(per)
	if a.reduction == "mean" {
		if total := a.totalWeight(); total != 0 {
			out.data[0] /= total
		} else {
			out.data[0] = E(math.NaN())
		}
	}
	return []*dense[E]{out}, nil
}

// nllLossGradKernel takes (dy, log_probs, target) and an optional class weight.
func nllLossGradKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if len(in) != 3 && len(in) != 4 {
		return nil, fmt.Errorf("nll_loss_grad expects 3 or 4 inputs, got %d", len(in))
	}
	dy := in[0]
	a, err := parseNLL("nll_loss_grad", in[1], in[2], in[3:], attrs)
	if err != nil {
		return nil, err
	}
	if a.reduction == "none" && dy.shape.NumElements() != a.n {
		return nil, fmt.Errorf("nll_loss_grad: dy %v does not match batch %d", dy.shape, a.n)
	}
	if a.reduction != "none" && dy.shape.NumElements() != 1 {
		return nil, fmt.Errorf("nll_loss_grad: dy %v must be a scalar", dy.shape)
	}
	scale := E(1)
	if a.reduction == "mean" {
		scale = 1 / a.totalWeight()
	}
	dx := e.alloc(a.logp.shape, a.logp.kind)
	for i, v := range a.target.data {
		t := int(v)
		if t == a.ignore {
			continue
		}
		g := dy.data[0]
		if a.reduction == "none" {
			g = dy.data[i]
		}
		dx.data[i*a.classes+t] = -a.classWeight(t) * g * scale
	}
	return []*dense[E]{dx}, nil
}

// upsampleNearest2DKernel resizes [N, C, H, W] by attributes scale_h and scale_w (or an explicit
// size). The source coordinate of output pixel o is min(floor(o / scale), in - 1).
func upsampleNearest2DKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if x.shape.Rank() != 4 {
		return nil, fmt.Errorf("upsample_nearest_2d needs [N, C, H, W], got %v", x.shape)
	}
	n, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	sh, sw := attrs.Float("scale_h", 1), attrs.Float("scale_w", 1)
	oh, ow := int(math.Floor(float64(h)*sh)), int(math.Floor(float64(w)*sw))
	if size := attrs.Ints("size"); len(size) == 2 {
		oh, ow = size[0], size[1]
		sh, sw = float64(oh)/float64(h), float64(ow)/float64(w)
	}
	if sh <= 0 || sw <= 0 || oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("upsample_nearest_2d: invalid output %dx%d (scale %g, %g)", oh, ow, sh, sw)
	}
	rowSrc := nearestSource(oh, h, sh)
	colSrc := nearestSource(ow, w, sw)
	out := e.alloc(tensor.Shape{n, c, oh, ow}, x.kind)
	for p := 0; p < n*c; p++ {
		src := x.data[p*h*w : (p+1)*h*w]
		dst := out.data[p*oh*ow : (p+1)*oh*ow]
		for i, si := range rowSrc {
			for j, sj := range colSrc {
				dst[i*ow+j] = src[si*w+sj]
			}
		}
	}
	return []*dense[E]{out}, nil
}

func nearestSource(outLen, inLen int, scale float64) []int {
	idx := make([]int, outLen)
	for o := range idx {
		idx[o] = min(int(math.Floor(float64(o)/scale)), inLen-1)
	}
	return idx
}

// l1l2RegularizeGradientKernel takes (model, model_diff): diff + l1*sign(model) + l2*model.
func l1l2RegularizeGradientKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	model, diff := in[0], in[1]
	if !model.shape.Equal(diff.shape) {
		return nil, fmt.Errorf("l1_l2_regularize_gradient: model %v and diff %v differ", model.shape, diff.shape)
	}
	l1, l2 := E(attrs.Float("l1", 0)), E(attrs.Float("l2", 0))
	out := e.alloc(diff.shape, diff.kind)
	for i, m := range model.data {
		var sign E
		switch {
		case m > 0:
			sign = 1
		case m < 0:
			sign = -1
		}
		out.data[i] = diff.data[i] + l1*sign + l2*m
	}
	return []*dense[E]{out}, nil
}

// sgdUpdateKernel takes (param, grad): param - lr * (grad + weight_decay * param).
func sgdUpdateKernel[E element](e *engine[E], in []*dense[E], attrs Attrs) ([]*dense[E], error) {
	if err := wantInputs(in, 2); err != nil {
		return nil, err
	}
	p, g := in[0], in[1]
	if !p.shape.Equal(g.shape) {
		return nil, fmt.Errorf("sgd_update: param %v and grad %v differ", p.shape, g.shape)
	}
	lr, wd := E(attrs.Float("lr", 0.01)), E(attrs.Float("weight_decay", 0))
	out := e.alloc(p.shape, p.kind)
	for i, v := range p.data {
		out.data[i] = v - lr*(g.data[i]+wd*v)
	}
	return []*dense[E]{out}, nil
}
