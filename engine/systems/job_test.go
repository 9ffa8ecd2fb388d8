package systems

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestRunAll(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	var ran atomic.Int32
	fns := make([]func() error, 10)
	for i := range fns {
		fns[i] = func() error {
			ran.Add(1)
			return nil
		}
	}
	require.NoError(t, js.RunAll("count", fns))
	assert.Equal(t, int32(10), ran.Load())
}

func TestRunAllJoinsErrors(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	first := errors.New("first")
	second := errors.New("second")
	err = js.RunAll("fail", []func() error{
		func() error { return first },
		func() error { return nil },
		func() error { return second },
	})
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, js.Submit(JobTask{
		Name:       "close",
		Run:        func() error { return nil },
		OnComplete: func() { close(done) },
	}))
	<-done
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	err = js.Submit(JobTask{Name: "late", Run: func() error { return nil }})
	assert.ErrorIs(t, err, ErrJobSystemClosed)
	err = js.RunAll("late", []func() error{func() error { return nil }})
	assert.ErrorIs(t, err, ErrJobSystemClosed)
}
