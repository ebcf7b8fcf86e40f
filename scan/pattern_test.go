package scan

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gscan/actuator"
)

func walk(t *testing.T, p Pattern, order SweepOrder) ([]Angles, []StepKind) {
	t.Helper()
	var pos []Angles
	var kinds []StepKind
	require.NoError(t, p.Walk(order, func(a Angles, k StepKind) error {
		pos = append(pos, a)
		kinds = append(kinds, k)
		return nil
	}))
	return pos, kinds
}

func TestPattern_Walk(t *testing.T) {
	p := Pattern{
		Horizontal: Range{Start: -10, Stop: 10}, HStep: 10,
		Vertical: Range{Start: 0, Stop: 10}, VStep: 10,
	}
	pos, kinds := walk(t, p, HorizontalPrimary)
	assert.Equal(t, []Angles{
		{-10, 0}, {0, 0}, {10, 0},
		{10, 10}, {0, 10}, {-10, 10},
	}, pos)
	assert.Equal(t, []StepKind{StepStart, StepFast, StepFast, StepSlow, StepFast, StepFast}, kinds)
	assert.Equal(t, 6, p.Positions(HorizontalPrimary))

	var h []float64
	for _, a := range pos {
		if len(h) == 0 || h[len(h)-1] != a.Horizontal {
			h = append(h, a.Horizontal)
		}
	}
	assert.Equal(t, []float64{-10, 0, 10, 0, -10}, h)
}

func TestPattern_Walk_VerticalPrimary(t *testing.T) {
	p := Pattern{
		Horizontal: Range{Start: 0, Stop: 10}, HStep: 10,
		Vertical: Range{Start: 0, Stop: 20}, VStep: 10,
	}
	pos, _ := walk(t, p, VerticalPrimary)
	assert.Equal(t, []Angles{
		{0, 0}, {0, 10}, {0, 20},
		{10, 20}, {10, 10}, {10, 0},
	}, pos)
}

func TestPattern_Walk_Clamp(t *testing.T) {
	p := Pattern{
		Horizontal: Range{Start: 0, Stop: 25}, HStep: 10,
		Vertical: Range{Start: 5, Stop: 5}, VStep: 1,
	}
	pos, _ := walk(t, p, HorizontalPrimary)
	assert.Equal(t, []Angles{{0, 5}, {10, 5}, {20, 5}, {25, 5}}, pos)

	// accumulated float error must not add a sliver step
	p = Pattern{
		Horizontal: Range{Start: 0, Stop: 1}, HStep: 0.1,
		Vertical: Range{Start: 0, Stop: 0}, VStep: 1,
	}
	pos, _ = walk(t, p, HorizontalPrimary)
	assert.Len(t, pos, 11)
}

func TestPattern_Walk_Error(t *testing.T) {
	p := Pattern{
		Horizontal: Range{Start: 0, Stop: 10}, HStep: 1,
		Vertical: Range{Start: 0, Stop: 10}, VStep: 1,
	}
	boom := errors.New("boom")
	n := 0
	err := p.Walk(HorizontalPrimary, func(Angles, StepKind) error {
		n++
		if n == 3 {
			return boom
		}
		return nil
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 3, n)
}

func TestPattern_Validate(t *testing.T) {
	good := Pattern{
		Horizontal: Range{Start: -10, Stop: 10}, HStep: 1,
		Vertical: Range{Start: 0, Stop: 10}, VStep: 1,
	}
	require.NoError(t, good.Validate())
	require.NoError(t, good.Within(actuator.DefaultLimits))

	for name, mod := range map[string]func(p *Pattern){
		"zero h step":   func(p *Pattern) { p.HStep = 0 },
		"neg v step":    func(p *Pattern) { p.VStep = -1 },
		"reversed":      func(p *Pattern) { p.Horizontal = Range{Start: 10, Stop: -10} },
		"negative time": func(p *Pattern) { p.StepTime = -1 },
	} {
		p := good
		mod(&p)
		err := p.Validate()
		var ce *ConfigError
		assert.True(t, errors.As(err, &ce), name)
	}

	p := good
	p.Vertical.Stop = 300
	var ce *ConfigError
	assert.True(t, errors.As(p.Within(actuator.DefaultLimits), &ce))
	assert.Equal(t, "stop", ce.Field)
}

func TestParseSweepOrder(t *testing.T) {
	o, err := ParseSweepOrder("vertical")
	require.NoError(t, err)
	assert.Equal(t, VerticalPrimary, o)

	o, err = ParseSweepOrder("")
	require.NoError(t, err)
	assert.Equal(t, HorizontalPrimary, o)

	_, err = ParseSweepOrder("diagonal")
	assert.Error(t, err)
}

func TestAngleState(t *testing.T) {
	var s angleState
	assert.Equal(t, Angles{}, s.Load())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			s.Store(Angles{Horizontal: float64(i), Vertical: -float64(i)})
		}
	}()
	for i := 0; i < 10000; i++ {
		a := s.Load()
		require.Equal(t, -a.Horizontal, a.Vertical)
	}
	wg.Wait()
}
