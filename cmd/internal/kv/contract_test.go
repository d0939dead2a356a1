package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, KeyRememberEmail, []byte("a@b.co")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, KeyRememberEmail)
	if err != nil || string(got) != "a@b.co" {
		t.Fatalf("get after put: %q %v", got, err)
	}

	if err := s.Put(ctx, KeyRememberEmail, []byte("c@d.co")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, KeyRememberEmail)
	if string(got) != "c@d.co" {
		t.Fatalf("overwrite not visible: %q", got)
	}

	key := AccountKey("user@example.com")
	created, err := s.PutIfAbsent(ctx, key, []byte(`{"v":1}`))
	if err != nil || !created {
		t.Fatalf("first put if absent: created=%v err=%v", created, err)
	}
	created, err = s.PutIfAbsent(ctx, key, []byte(`{"v":2}`))
	if err != nil || created {
		t.Fatalf("second put if absent: created=%v err=%v", created, err)
	}
	got, _ = s.Get(ctx, key)
	if string(got) != `{"v":1}` {
		t.Fatalf("put if absent overwrote existing value: %q", got)
	}

	for _, k := range SessionKeys {
		if err := s.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if err := s.Delete(ctx, SessionKeys...); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, k := range SessionKeys {
		if _, err := s.Get(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s survived delete: %v", k, err)
		}
	}
	if err := s.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("delete of unknown key should be a no-op: %v", err)
	}

	if err := s.Put(ctx, "  ", []byte("x")); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

// exercisePutIfAbsentRace checks that exactly one of many concurrent writers wins.
func exercisePutIfAbsentRace(t *testing.T, s Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.PutIfAbsent(ctx, AccountKey("race@example.com"), []byte(fmt.Sprint(i)))
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
