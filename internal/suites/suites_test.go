package suites

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

func TestCatalog(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range All() {
		require.NoError(t, s.Validate())
		assert.False(t, seen[s.Name], "duplicate suite %s", s.Name)
		seen[s.Name] = true
		assert.NotEmpty(t, parity.Cases(s.Matrix), s.Name)
	}
	assert.Len(t, Names(), len(All()))
	assert.IsIncreasing(t, Names())
}

func TestSelect(t *testing.T) {
	all, err := Select()
	require.NoError(t, err)
	assert.Len(t, all, len(All()))

	got, err := Select("nll_loss", "add", "nll_loss")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "nll_loss", got[0].Name)
	assert.Equal(t, "add", got[1].Name)

	_, err = Select("add", "conv2d")
	assert.ErrorIs(t, err, ErrUnknownSuite)
}

func TestCatalog_CaseCounts(t *testing.T) {
	counts := map[string]int{}
	for _, s := range All() {
		counts[s.Name] = s.Matrix.Len()
	}
	assert.Equal(t, 10, counts["add"])
	assert.Equal(t, 12, counts["dim_gather"])
	assert.Equal(t, 6, counts["batchnorm_grad"])
	assert.Equal(t, 12, counts["math_op"])
	assert.Equal(t, 16, counts["activation_backward"])
}

// Every suite of the catalog passes against the emulated accelerator.
func TestCatalog_PassesOnAccel(t *testing.T) {
	cfg := parity.DefaultConfig()
	cfg.Parallelism = 4
	r := parity.NewRunner(parity.New(cfg))
	rep := r.Run(context.Background(), All())
	require.Len(t, rep.Suites, len(All()))
	for _, res := range rep.Failures() {
		t.Errorf("%s %s: %s phase=%s output=%d index=%v ref=%g cand=%g: %v",
			res.Suite, res.Case, res.Verdict, res.Phase, res.Output, res.Index, res.Reference, res.Candidate, res.Err)
	}
	sum := rep.Summary()
	assert.True(t, sum.OK(false))
	assert.Equal(t, sum.Total, sum.Passed)
}

func TestFusedBNRelu_UsesFusedKernelOnTarget(t *testing.T) {
	s := FusedBNRelu()
	target := s.ConfigureTarget(device.Config{})
	assert.True(t, target.FuseNormalization)

	b, err := device.Open(device.AccelName, target)
	require.NoError(t, err)
	defer b.Close()
	assert.True(t, b.Supports("batch_norm_relu", tensor.Float32))

	ref, err := device.Open(device.CPUName, device.Config{})
	require.NoError(t, err)
	defer ref.Close()
	assert.False(t, ref.Supports("batch_norm_relu", tensor.Float32))
}

func TestCatalog_UnsupportedTargetKernel(t *testing.T) {
	cfg := parity.DefaultConfig()
	cfg.TargetDevice = device.Config{Unsupported: []string{"gather_nd:float16"}}
	rep := parity.NewRunner(parity.New(cfg)).Run(context.Background(), []*parity.Suite{GatherND()})
	sum := rep.Summary()
	assert.Equal(t, 2, sum.Unsupported, "float16 cases with both index kinds")
	assert.True(t, sum.OK(true))
	assert.False(t, sum.OK(false))
}
