package shared

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, CustomerLockKey(1))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexDistinctKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()
	unlockA, err := km.Lock(ctx, CustomerLockKey(1))
	require.NoError(t, err)
	defer unlockA()

	ctxB, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := km.Lock(ctxB, CustomerLockKey(2))
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, km.Len())
}

func TestValidationErrorWrapsClass(t *testing.T) {
	err := NewValidationError("amount", "must be positive")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "validation: amount: must be positive", err.Error())

	type input struct {
		Quantity int64 `validate:"gt=0"`
	}
	verr := FromValidator(validator.New().Struct(input{}))
	var ve *ValidationError
	require.True(t, errors.As(verr, &ve))
	assert.Equal(t, "input.Quantity", ve.Field)
	assert.True(t, errors.Is(verr, ErrValidation))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPerPage, p.PerPage)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 10, 45)
	assert.Equal(t, 20, p.Offset())
	assert.Equal(t, 5, p.TotalPages)
}
