package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLock_LocalOnly(t *testing.T) {
	lock := NewRunLock(nil, "dining:import:lock", time.Minute, logrus.New())

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	_, err = lock.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)

	release()

	release, err = lock.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestGenerateListCacheKey_Deterministic(t *testing.T) {
	a := generateListCacheKey("catalog:items", map[string]int{"page": 1})
	b := generateListCacheKey("catalog:items", map[string]int{"page": 1})
	c := generateListCacheKey("catalog:items", map[string]int{"page": 2})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "catalog:items:")
}
