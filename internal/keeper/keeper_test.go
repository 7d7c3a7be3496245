package keeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/platform"
)

type scriptedAdvancer struct {
	results []error
	calls   int
}

func (s *scriptedAdvancer) TryAdvance(context.Context) (*platform.Receipt, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		return nil, domain.ErrRoundNotExpired
	}
	if s.results[i] != nil {
		return nil, s.results[i]
	}
	return &platform.Receipt{Op: platform.OpStartSaleRound, Round: i + 1}, nil
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(&scriptedAdvancer{}, "every minute")
	assert.Error(t, err)

	_, err = New(&scriptedAdvancer{}, "@every 30s")
	assert.NoError(t, err)
}

func TestTick_StopsAtNotExpired(t *testing.T) {
	adv := &scriptedAdvancer{results: []error{nil, nil, domain.ErrRoundNotExpired}}
	k, err := New(adv, "* * * * *")
	require.NoError(t, err)

	assert.Equal(t, 2, k.Tick(context.Background()))
	assert.Equal(t, 3, adv.calls)
}

func TestTick_BoundedSteps(t *testing.T) {
	adv := &scriptedAdvancer{results: []error{nil, nil, nil, nil, nil}}
	k, err := New(adv, "@every 1m")
	require.NoError(t, err)

	assert.Equal(t, maxStepsPerTick, k.Tick(context.Background()))
}

func TestTick_OtherErrorsStop(t *testing.T) {
	adv := &scriptedAdvancer{results: []error{errors.New("mint failed")}}
	k, err := New(adv, "@every 1m")
	require.NoError(t, err)

	assert.Equal(t, 0, k.Tick(context.Background()))
	assert.Equal(t, 1, adv.calls)
}

func TestStartStop(t *testing.T) {
	k, err := New(&scriptedAdvancer{}, "@every 1h")
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	require.NoError(t, k.Stop(context.Background()))
}

type panickingAdvancer struct {
	calls atomic.Int32
}

func (p *panickingAdvancer) TryAdvance(context.Context) (*platform.Receipt, error) {
	p.calls.Add(1)
	panic("receipt handler exploded")
}

func TestScheduledTickSurvivesPanic(t *testing.T) {
	adv := &panickingAdvancer{}
	k, err := New(adv, "@every 1s")
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	defer func() { _ = k.Stop(context.Background()) }()

	// 第二次调度说明第一次 panic 被恢复且 tick 锁已释放
	assert.Eventually(t, func() bool { return adv.calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}
