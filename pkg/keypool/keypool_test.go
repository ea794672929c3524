package keypool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-ruvo/pkg/kv"
)

// statusErr mimics a provider API error.
type statusErr struct {
	code int
}

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }

func (e *statusErr) IsCredential() bool {
	return e.code == 401 || e.code == 403 || e.code == 429
}

func (e *statusErr) IsRetryable() bool {
	return e.code >= 500
}

// recorder counts observer events per fingerprint.
type recorder struct {
	mu      sync.Mutex
	used    map[string]int
	invalid map[string]int
	resets  int
}

func newRecorder() *recorder {
	return &recorder{used: map[string]int{}, invalid: map[string]int{}}
}

func (r *recorder) KeyUsed(fp string) {
	r.mu.Lock()
	r.used[fp]++
	r.mu.Unlock()
}

func (r *recorder) KeyInvalidated(fp string) {
	r.mu.Lock()
	r.invalid[fp]++
	r.mu.Unlock()
}

func (r *recorder) PoolReset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

var keys4 = []string{"key-aaaaaaaa", "key-bbbbbbbb", "key-cccccccc", "key-dddddddd"}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
	if _, err := New([]string{"", ""}); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials for blanks, got %v", err)
	}
	if _, err := New(keys4, WithQuota(0)); !errors.Is(err, ErrInvalidQuota) {
		t.Errorf("expected ErrInvalidQuota, got %v", err)
	}

	m, err := New([]string{"a-key-000001", "a-key-000001", "b-key-000002"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("expected duplicates dropped, got %d", m.Len())
	}
}

func TestRotationFifteenCalls(t *testing.T) {
	rec := newRecorder()
	m, err := New(keys4, WithQuota(3), WithObserver(rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var used []string
	for i := 0; i < 15; i++ {
		err := m.Do(context.Background(), func(_ context.Context, key string) error {
			used = append(used, key)
			return nil
		})
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	want := []string{
		keys4[0], keys4[0], keys4[0],
		keys4[1], keys4[1], keys4[1],
		keys4[2], keys4[2], keys4[2],
		keys4[3], keys4[3], keys4[3],
		keys4[0], keys4[0], keys4[0],
	}
	for i := range want {
		if used[i] != want[i] {
			t.Errorf("call %d used %s, want %s", i+1, used[i], want[i])
		}
	}
	if rec.resets != 1 {
		t.Errorf("expected 1 pool reset, got %d", rec.resets)
	}

	// After call 13 A restarted at 1; calls 14 and 15 bring it to 3.
	recs := m.Records()
	if recs[0].UsageCount != 3 {
		t.Errorf("expected A usage 3 after 15 calls, got %d", recs[0].UsageCount)
	}
	for _, r := range recs[1:] {
		if r.UsageCount != 0 {
			t.Errorf("expected %s usage 0 after reset, got %d", r.Credential, r.UsageCount)
		}
	}
}

func TestThirteenthCallResets(t *testing.T) {
	m, _ := New(keys4, WithQuota(3))
	for i := 0; i < 12; i++ {
		key, err := m.Current()
		if err != nil {
			t.Fatal(err)
		}
		m.RecordSuccess(key)
	}

	key, err := m.Current()
	if err != nil {
		t.Fatal(err)
	}
	if key != keys4[0] {
		t.Fatalf("13th call should use A, got %s", key)
	}
	m.RecordSuccess(key)
	if got := m.Records()[0].UsageCount; got != 1 {
		t.Errorf("expected A usage 1 after reset, got %d", got)
	}
}

func TestMarkInvalidIdempotent(t *testing.T) {
	rec := newRecorder()
	store := kv.NewMemory()
	m, _ := New(keys4, WithStore(store), WithObserver(rec))

	m.MarkInvalid(keys4[1])
	once := m.Records()
	rawOnce, _ := store.Get(context.Background(), StateKey)

	m.MarkInvalid(keys4[1])
	twice := m.Records()
	rawTwice, _ := store.Get(context.Background(), StateKey)

	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("record %d changed on second MarkInvalid: %+v vs %+v", i, once[i], twice[i])
		}
	}
	if string(rawOnce) != string(rawTwice) {
		t.Error("persisted state changed on second MarkInvalid")
	}
	if rec.invalid[Fingerprint(keys4[1])] != 1 {
		t.Errorf("expected 1 invalidation event, got %d", rec.invalid[Fingerprint(keys4[1])])
	}

	// Unknown credentials are ignored.
	m.MarkInvalid("not-in-pool")
}

func TestUnknownCredentialIgnored(t *testing.T) {
	rec := newRecorder()
	m, _ := New(keys4[:2], WithObserver(rec))

	m.RecordSuccess("not-in-pool")
	m.MarkInvalid("not-in-pool")

	for _, r := range m.Records() {
		if r.UsageCount != 0 || !r.Active {
			t.Errorf("%s changed: %+v", r.Credential, r)
		}
	}
	if len(rec.used) != 0 || len(rec.invalid) != 0 {
		t.Errorf("expected no observer events, got used=%v invalid=%v", rec.used, rec.invalid)
	}
}

func TestSelectionSkipsInvalid(t *testing.T) {
	m, _ := New(keys4)
	m.MarkInvalid(keys4[0])
	m.MarkInvalid(keys4[1])

	key, _ := m.Current()
	if key != keys4[2] {
		t.Errorf("expected C, got %s", key)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := kv.NewMemory()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := func() time.Time { return clock }

	m, _ := New(keys4, WithStore(store), WithClock(now))
	for i := 0; i < 4; i++ {
		k, _ := m.Current()
		m.RecordSuccess(k)
	}
	m.MarkInvalid(keys4[2])
	before := m.Records()
	beforeCur, _ := m.Current()

	reloaded, err := New(keys4, WithStore(store), WithClock(now))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	after := reloaded.Records()
	afterCur, _ := reloaded.Current()

	for i := range before {
		b, a := before[i], after[i]
		if b.UsageCount != a.UsageCount || b.Active != a.Active || !b.LastUsed.Equal(a.LastUsed) {
			t.Errorf("record %d differs after reload: %+v vs %+v", i, b, a)
		}
	}
	if beforeCur != afterCur {
		t.Errorf("current pointer differs: %s vs %s", beforeCur, afterCur)
	}
}

func TestPersistenceNeverStoresSecrets(t *testing.T) {
	store := kv.NewMemory()
	m, _ := New(keys4, WithStore(store))
	k, _ := m.Current()
	m.RecordSuccess(k)

	raw, err := store.Get(context.Background(), StateKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, key := range keys4 {
		if strings.Contains(string(raw), key) {
			t.Errorf("persisted state contains credential %s", key)
		}
	}
}

func TestPersistenceCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "{not json"},
		{"wrong version", `{"version":99,"keys":{}}`},
		{"negative usage", `{"version":1,"keys":{"` + Fingerprint(keys4[0]) + `":{"usage":-4,"active":false}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kv.NewMemory()
			ctx := context.Background()
			if err := store.Set(ctx, StateKey, []byte(tt.data)); err != nil {
				t.Fatal(err)
			}

			m, err := New(keys4, WithStore(store))
			if err != nil {
				t.Fatalf("New should not fail on corrupt state: %v", err)
			}
			for _, r := range m.Records() {
				if r.UsageCount != 0 || !r.Active {
					t.Errorf("expected fresh record, got %+v", r)
				}
			}
			if _, err := store.Get(ctx, StateKey); !errors.Is(err, kv.ErrNotFound) {
				t.Errorf("expected corrupt state removed, got %v", err)
			}
		})
	}
}

func TestDoRotatesOnRateLimit(t *testing.T) {
	rec := newRecorder()
	m, _ := New(keys4[:2], WithObserver(rec))

	var calls []string
	reply := ""
	err := m.Do(context.Background(), func(_ context.Context, key string) error {
		calls = append(calls, key)
		if key == keys4[0] {
			return &statusErr{code: 429}
		}
		reply = "hello"
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if reply != "hello" {
		t.Error("expected reply to arrive")
	}
	if len(calls) != 2 {
		t.Errorf("expected 2 calls, got %v", calls)
	}

	fpA, fpB := Fingerprint(keys4[0]), Fingerprint(keys4[1])
	if rec.invalid[fpA] != 1 || len(rec.invalid) != 1 {
		t.Errorf("expected exactly one invalidation of A, got %v", rec.invalid)
	}
	if rec.used[fpB] != 1 || len(rec.used) != 1 {
		t.Errorf("expected exactly one success on B, got %v", rec.used)
	}
}

func TestDoTransientRetriesSameKey(t *testing.T) {
	rec := newRecorder()
	m, _ := New(keys4[:2], WithObserver(rec), WithTransientRetries(2, time.Millisecond))

	var calls []string
	err := m.Do(context.Background(), func(_ context.Context, key string) error {
		calls = append(calls, key)
		if len(calls) < 3 {
			return &statusErr{code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	for _, c := range calls {
		if c != keys4[0] {
			t.Errorf("expected every retry on A, got %v", calls)
			break
		}
	}
	if len(rec.invalid) != 0 {
		t.Errorf("transient errors must not invalidate, got %v", rec.invalid)
	}
	if rec.used[Fingerprint(keys4[0])] != 1 {
		t.Errorf("expected one success on A, got %v", rec.used)
	}
}

func TestDoTransientMovesOn(t *testing.T) {
	m, _ := New(keys4[:2], WithTransientRetries(1, time.Millisecond))

	counts := map[string]int{}
	err := m.Do(context.Background(), func(_ context.Context, key string) error {
		counts[key]++
		return &statusErr{code: 500}
	})

	var rerr *RotationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RotationError, got %v", err)
	}
	if rerr.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", rerr.Attempts)
	}
	if counts[keys4[0]] != 2 || counts[keys4[1]] != 2 {
		t.Errorf("expected 2 calls per key, got %v", counts)
	}
	for _, r := range m.Records() {
		if !r.Active {
			t.Errorf("transient failure invalidated %s", r.Credential)
		}
	}
}

func TestDoAllCredentialsRejected(t *testing.T) {
	m, _ := New(keys4[:3])

	calls := 0
	err := m.Do(context.Background(), func(context.Context, string) error {
		calls++
		return &statusErr{code: 401}
	})

	var se *statusErr
	if !errors.As(err, &se) || se.code != 401 {
		t.Fatalf("expected last error to propagate, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected one call per credential, got %d", calls)
	}
	for _, r := range m.Records() {
		if r.Active {
			t.Errorf("expected %s invalidated", r.Credential)
		}
	}

	// The pool recovers on the next selection.
	key, err := m.Current()
	if err != nil || key != keys4[0] {
		t.Errorf("expected reset to A, got %s, %v", key, err)
	}
}

func TestDoFatalStops(t *testing.T) {
	m, _ := New(keys4)
	boom := errors.New("boom")

	calls := 0
	err := m.Do(context.Background(), func(context.Context, string) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoContextCanceled(t *testing.T) {
	m, _ := New(keys4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Do(ctx, func(context.Context, string) error {
		t.Error("fn should not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStrictExhaustion(t *testing.T) {
	m, _ := New(keys4[:2], WithQuota(1), WithStrictExhaustion(true))
	for i := 0; i < 2; i++ {
		k, err := m.Current()
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		m.RecordSuccess(k)
	}

	if _, err := m.Current(); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}

	err := m.Do(context.Background(), func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected Do to surface ErrPoolExhausted, got %v", err)
	}

	m.Reset()
	if _, err := m.Current(); err != nil {
		t.Errorf("expected usable pool after Reset, got %v", err)
	}
}

func TestQuotaInvariant(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed))
			n := 1 + rng.IntN(5)
			q := 1 + rng.IntN(4)
			keys := make([]string, n)
			for i := range keys {
				keys[i] = fmt.Sprintf("key-%08d", i)
			}
			m, _ := New(keys, WithQuota(q))

			for step := 0; step < 200; step++ {
				k, err := m.Current()
				if err != nil {
					t.Fatal(err)
				}
				if rng.IntN(5) == 0 {
					m.MarkInvalid(k)
				} else {
					m.RecordSuccess(k)
				}
				for _, r := range m.Records() {
					if r.Active && r.UsageCount > q {
						t.Fatalf("step %d: active %s usage %d exceeds quota %d", step, r.Credential, r.UsageCount, q)
					}
				}
			}
		})
	}
}

func TestDoConcurrentRespectsQuota(t *testing.T) {
	rec := newRecorder()
	m, _ := New([]string{"key-aaaaaaaa", "key-bbbbbbbb"}, WithQuota(3), WithObserver(rec))

	var (
		mu       sync.Mutex
		inFlight = map[string]int{}
		peak     = map[string]int{}
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(context.Background(), func(_ context.Context, key string) error {
				mu.Lock()
				inFlight[key]++
				peak[key] = max(peak[key], inFlight[key])
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				inFlight[key]--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for key, n := range peak {
		if n > 3 {
			t.Errorf("%s ran %d calls at once, quota is 3", key, n)
		}
	}
	if rec.resets != 1 {
		t.Errorf("expected one reset after six calls, got %d", rec.resets)
	}
	total := 0
	for _, r := range m.Records() {
		if r.Active && r.UsageCount > 3 {
			t.Errorf("active %s usage %d exceeds quota 3", r.Credential, r.UsageCount)
		}
		total += r.UsageCount
	}
	if total != 2 {
		t.Errorf("expected 2 calls counted since the reset, got %d", total)
	}
}

func TestDoWaitingHonorsContext(t *testing.T) {
	m, _ := New([]string{"key-aaaaaaaa"}, WithQuota(1))
	started := make(chan struct{})
	finish := make(chan struct{})
	go m.Do(context.Background(), func(context.Context, string) error {
		close(started)
		<-finish
		return nil
	})
	<-started
	defer close(finish)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Do(ctx, func(context.Context, string) error {
		t.Error("fn should not run while the only slot is held")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestStatsMasksSecrets(t *testing.T) {
	m, _ := New([]string{"sk-1234567890abcdef"})
	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected 1 stat, got %d", len(stats))
	}
	if stats[0].Masked != "sk-...cdef" {
		t.Errorf("unexpected mask %q", stats[0].Masked)
	}
	if !stats[0].Current || stats[0].Quota != 3 {
		t.Errorf("unexpected stat %+v", stats[0])
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"401", &statusErr{401}, Credential},
		{"403", &statusErr{403}, Credential},
		{"429", &statusErr{429}, Credential},
		{"503", &statusErr{503}, Retryable},
		{"wrapped 429", fmt.Errorf("chat: %w", &statusErr{429}), Credential},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"plain", errors.New("bad request"), Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultClassifier(tt.err); got != tt.want {
				t.Errorf("DefaultClassifier(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
