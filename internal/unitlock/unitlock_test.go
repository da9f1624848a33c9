package unitlock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDo_SerializesSameUnit(t *testing.T) {
	g := NewGuard(nil, zap.NewNop(), nil)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	unitID := node.Generate()
	ctx := context.Background()

	const workers = 16
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := g.Do(ctx, unitID, func() error {
				// Unsynchronized on purpose: the guard is the only thing
				// keeping this increment race-free.
				counter++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, workers, counter)
}

func TestDo_DifferentUnitsDoNotBlock(t *testing.T) {
	g := NewGuard(nil, zap.NewNop(), nil)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	a := node.Generate()
	b := node.Generate()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = g.Do(ctx, a, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	// Unit b proceeds while a's lock is held.
	done := make(chan struct{})
	go func() {
		_ = g.Do(ctx, b, func() error { return nil })
		close(done)
	}()
	<-done
	close(release)
}

func TestDo_PropagatesError(t *testing.T) {
	g := NewGuard(nil, zap.NewNop(), nil)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sentinel := errors.New("boom")
	got := g.Do(context.Background(), node.Generate(), func() error { return sentinel })
	assert.ErrorIs(t, got, sentinel)

	assert.Error(t, g.Do(context.Background(), 0, func() error { return nil }))
}
