package numbering

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestPrefixAndFormat(t *testing.T) {
	at := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"cash_sale":    "RV-BKK01-25030007",
		"credit_sale":  "RC-BKK01-25030007",
		"debt_payment": "RP-BKK01-25030007",
		"deposit":      "RD-BKK01-25030007",
		"return":       "RR-BKK01-25030007",
		"service":      "RS-BKK01-25030007",
		"installment":  "RI-BKK01-25030007",
		"unknown":      "RV-BKK01-25030007",
	}
	for typ, want := range cases {
		require.Equal(t, want, Format(NewScope(typ, "BKK01", at), 7), typ)
	}
	scope := NewScope("deposit", "CNX02", at)
	require.Equal(t, "RDCNX022503", scope.Key())
	require.Equal(t, "RD-CNX02-250312345", Format(scope, 12345))
	require.NotEqual(t, Format(NewScope("cash_sale", "HQ", at), 1), Format(NewScope("cash_sale", "BKK", at), 1))
	require.Equal(t, "RV-25030001", Format(NewScope("cash_sale", "", at), 1))
}

type failingAllocator struct{}

func (failingAllocator) Next(context.Context, Scope) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestAllocateWrapsFailure(t *testing.T) {
	_, err := Allocate(context.Background(), failingAllocator{}, NewScope("cash_sale", "B1", time.Now()))
	require.ErrorIs(t, err, ErrAllocate)
	require.Contains(t, err.Error(), "connection refused")

	_, err = Allocate(context.Background(), nil, Scope{})
	require.ErrorIs(t, err, ErrAllocate)
}

func newRedisAllocator(t *testing.T) (*RedisAllocator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAllocator(client), mr
}

func TestRedisAllocatorConcurrentUniqueAndIncreasing(t *testing.T) {
	alloc, mr := newRedisAllocator(t)
	scope := NewScope("cash_sale", "BKK01", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	const workers = 50
	results := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = alloc.Next(context.Background(), scope)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, seq := range results {
		require.Equal(t, int64(i+1), seq)
	}
	require.True(t, mr.TTL(redisKeyPrefix+scope.Key()) > 0)
}

func TestRedisAllocatorScopesAreIndependent(t *testing.T) {
	alloc, _ := newRedisAllocator(t)
	jan := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	n, err := Allocate(context.Background(), alloc, NewScope("cash_sale", "B1", jan))
	require.NoError(t, err)
	require.Equal(t, "RV25010001", n)
	n, err = Allocate(context.Background(), alloc, NewScope("cash_sale", "B1", jan))
	require.NoError(t, err)
	require.Equal(t, "RV25010002", n)
	n, err = Allocate(context.Background(), alloc, NewScope("cash_sale", "B1", feb))
	require.NoError(t, err)
	require.Equal(t, "RV25020001", n)
	n, err = Allocate(context.Background(), alloc, NewScope("cash_sale", "B2", jan))
	require.NoError(t, err)
	require.Equal(t, "RV25010001", n)
	n, err = Allocate(context.Background(), alloc, NewScope("return", "B1", jan))
	require.NoError(t, err)
	require.Equal(t, "RR25010001", n)
}
