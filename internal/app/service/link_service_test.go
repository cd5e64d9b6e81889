package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/privacykit/shortlink/config"
	"github.com/privacykit/shortlink/internal/app/model"
	"github.com/privacykit/shortlink/internal/app/repository"
)

// memStore mimics the Postgres repository, including the conditional-update
// semantics of RegisterClick, so concurrency behaviour can be exercised
// without a database.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Link
	byCode map[string]int64

	failNext int
}

func newMemStore() *memStore {
	return &memStore{
		byID:   make(map[int64]*model.Link),
		byCode: make(map[string]int64),
	}
}

func (s *memStore) Create(ctx context.Context, link *model.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return repository.ErrDuplicateCode
	}
	if _, taken := s.byCode[link.ShortCode]; taken {
		return repository.ErrDuplicateCode
	}

	s.nextID++
	link.ID = s.nextID
	stored := *link
	s.byID[link.ID] = &stored
	s.byCode[link.ShortCode] = link.ID
	return nil
}

func (s *memStore) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	snapshot := *s.byID[id]
	return &snapshot, nil
}

func (s *memStore) Deactivate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link, ok := s.byID[id]; ok {
		link.Active = false
	}
	return nil
}

func (s *memStore) RegisterClick(ctx context.Context, id int64) (repository.ClickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.byID[id]
	if !ok {
		return repository.ClickResult{}, nil
	}
	if !link.Active || (link.MaxClicks != nil && link.ClickCount >= *link.MaxClicks) {
		return repository.ClickResult{Applied: false}, nil
	}

	link.ClickCount++
	if link.MaxClicks != nil && link.ClickCount >= *link.MaxClicks {
		link.Active = false
	}
	return repository.ClickResult{
		Applied:    true,
		ClickCount: link.ClickCount,
		Active:     link.Active,
	}, nil
}

func (s *memStore) ListCodes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]string, 0, len(s.byCode))
	for code := range s.byCode {
		codes = append(codes, code)
	}
	return codes, nil
}

func newTestService(t *testing.T, store *memStore) (*linkService, func(time.Time)) {
	t.Helper()

	svc := NewLinkService(Deps{
		Repo:      store,
		Generator: NewCodeGenerator(store, nil, config.ShortenerConfig{}),
	}).(*linkService)

	now := time.Now()
	svc.nowFunc = func() time.Time { return now }
	return svc, func(at time.Time) {
		now = at
		svc.nowFunc = func() time.Time { return at }
	}
}

func TestCreateLink_RequiresURL(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())

	_, err := svc.CreateLink(context.Background(), CreateLinkInput{OriginalURL: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateLink_NonPositiveExpiryIgnored(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())

	for _, hours := range []float64{0, -1} {
		link, err := svc.CreateLink(context.Background(), CreateLinkInput{
			OriginalURL: "https://example.com",
			ExpiryHours: hours,
		})
		if err != nil {
			t.Fatalf("CreateLink returned error: %v", err)
		}
		if link.ExpiresAt != nil {
			t.Fatalf("expiry_hours=%v must yield nil expires_at, got %v", hours, link.ExpiresAt)
		}
	}
}

func TestCreateLink_ExpiryIsCreatedAtPlusHours(t *testing.T) {
	svc, setNow := newTestService(t, newMemStore())
	created := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	setNow(created)

	link, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "https://example.com",
		ExpiryHours: 24,
		MaxClicks:   3,
	})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}
	if link.ExpiresAt == nil || !link.ExpiresAt.Equal(created.Add(24*time.Hour)) {
		t.Fatalf("expected expires_at %v, got %v", created.Add(24*time.Hour), link.ExpiresAt)
	}
	if link.MaxClicks == nil || *link.MaxClicks != 3 {
		t.Fatalf("expected max_clicks 3, got %v", link.MaxClicks)
	}
	if !link.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, link.CreatedAt)
	}
	if link.ClickCount != 0 || !link.Active {
		t.Fatal("new links start active with zero clicks")
	}
}

func TestCreateLink_UniqueCodes(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		link, err := svc.CreateLink(context.Background(), CreateLinkInput{
			OriginalURL: "https://example.com",
		})
		if err != nil {
			t.Fatalf("CreateLink returned error: %v", err)
		}
		if seen[link.ShortCode] {
			t.Fatalf("duplicate short code issued: %q", link.ShortCode)
		}
		seen[link.ShortCode] = true
	}
}

func TestCreateLink_RetriesOnceOnDuplicate(t *testing.T) {
	store := newMemStore()
	store.failNext = 1
	svc, _ := newTestService(t, store)

	link, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "https://example.com",
	})
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if link.ShortCode == "" {
		t.Fatal("expected a short code")
	}
}

func TestCreateLink_SecondDuplicateIsFatal(t *testing.T) {
	store := newMemStore()
	store.failNext = 2
	svc, _ := newTestService(t, store)

	_, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "https://example.com",
	})
	if !errors.Is(err, ErrCodeGeneration) {
		t.Fatalf("expected ErrCodeGeneration after two collisions, got %v", err)
	}
}

func TestResolveLink_UnknownCode(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())

	_, err := svc.ResolveLink(context.Background(), "nosuch")
	if !errors.Is(err, repository.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestResolveLink_UnboundedLinkNeverExpires(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	link, err := svc.CreateLink(ctx, CreateLinkInput{OriginalURL: "https://example.com"})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}

	for i := 0; i < 1000; i++ {
		res, err := svc.ResolveLink(ctx, link.ShortCode)
		if err != nil {
			t.Fatalf("resolve %d returned error: %v", i, err)
		}
		if !res.Allowed() {
			t.Fatalf("resolve %d denied: %s", i, res.Denial.Reason)
		}
		if res.TargetURL != "https://example.com" {
			t.Fatalf("unexpected target %q", res.TargetURL)
		}
	}
}

func TestResolveLink_SingleClickLatch(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	link, err := svc.CreateLink(ctx, CreateLinkInput{
		OriginalURL: "https://example.com",
		MaxClicks:   1,
	})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}

	first, err := svc.ResolveLink(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("first resolve returned error: %v", err)
	}
	if !first.Allowed() {
		t.Fatalf("first resolve denied: %s", first.Denial.Reason)
	}

	stored, _ := store.GetByCode(ctx, link.ShortCode)
	if stored.Active {
		t.Fatal("the click that spends the budget must latch the link off")
	}
	if stored.ClickCount != 1 {
		t.Fatalf("expected click_count 1, got %d", stored.ClickCount)
	}

	second, err := svc.ResolveLink(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("second resolve returned error: %v", err)
	}
	if second.Allowed() {
		t.Fatal("second resolve must deny")
	}
	// Inactive wins in the fixed check order once the latch has flipped.
	if second.Denial.Reason != ReasonInactive {
		t.Fatalf("expected ReasonInactive, got %s", second.Denial.Reason)
	}
}

func TestResolveLink_TimeExpiryThenAlreadyInactive(t *testing.T) {
	store := newMemStore()
	svc, setNow := newTestService(t, store)
	ctx := context.Background()
	created := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	setNow(created)

	link, err := svc.CreateLink(ctx, CreateLinkInput{
		OriginalURL: "https://example.com",
		ExpiryHours: 1,
	})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}

	// Just past the expiry instant.
	setNow(created.Add(time.Hour + time.Millisecond))

	first, err := svc.ResolveLink(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("first resolve returned error: %v", err)
	}
	if first.Allowed() || first.Denial.Reason != ReasonExpired {
		t.Fatalf("expected ReasonExpired on first post-expiry resolve, got %+v", first)
	}
	if first.Denial.ExpiresAt == nil || !first.Denial.ExpiresAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("denial must carry the expiry timestamp, got %v", first.Denial.ExpiresAt)
	}

	second, err := svc.ResolveLink(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("second resolve returned error: %v", err)
	}
	if second.Allowed() || second.Denial.Reason != ReasonInactive {
		t.Fatalf("second resolve must report the already-deactivated state, got %+v", second)
	}
}

func TestResolveLink_ConcurrentClicksNeverOvercount(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	link, err := svc.CreateLink(ctx, CreateLinkInput{
		OriginalURL: "https://example.com",
		MaxClicks:   5,
	})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}

	const resolvers = 25
	var wg sync.WaitGroup
	results := make([]*Resolution, resolvers)
	errs := make([]error, resolvers)

	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ResolveLink(ctx, link.ShortCode)
		}(i)
	}
	wg.Wait()

	allowed := 0
	for i := 0; i < resolvers; i++ {
		if errs[i] != nil {
			t.Fatalf("resolver %d returned error: %v", i, errs[i])
		}
		if results[i].Allowed() {
			allowed++
			continue
		}
		reason := results[i].Denial.Reason
		if reason != ReasonClickLimit && reason != ReasonInactive {
			t.Fatalf("resolver %d denied with unexpected reason %s", i, reason)
		}
	}

	if allowed != 5 {
		t.Fatalf("expected exactly 5 allowed resolves, got %d", allowed)
	}

	stored, _ := store.GetByCode(ctx, link.ShortCode)
	if stored.ClickCount != 5 {
		t.Fatalf("expected final click_count 5, got %d", stored.ClickCount)
	}
	if stored.Active {
		t.Fatal("link must be latched off after the budget is spent")
	}
}

// newReplica builds a service over the shared store with its own code
// filter, the way each deployed instance carries one.
func newReplica(ctx context.Context, t *testing.T, store *memStore) LinkService {
	t.Helper()

	filter := NewCodeFilter(1024, 0.001)
	if _, err := filter.Warm(ctx, store); err != nil {
		t.Fatalf("warming filter: %v", err)
	}
	return NewLinkService(Deps{
		Repo:      store,
		Generator: NewCodeGenerator(store, filter, config.ShortenerConfig{}),
		Filter:    filter,
	})
}

func TestResolveLink_SeesCodesIssuedByOtherReplicas(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	replicaA := newReplica(ctx, t, store)
	replicaB := newReplica(ctx, t, store)

	// B's filter was warmed before this code existed and has not rebuilt.
	link, err := replicaA.CreateLink(ctx, CreateLinkInput{OriginalURL: "https://example.com"})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}

	res, err := replicaB.ResolveLink(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("resolve on the other replica returned error: %v", err)
	}
	if !res.Allowed() {
		t.Fatalf("resolve on the other replica denied: %s", res.Denial.Reason)
	}
	if res.TargetURL != "https://example.com" {
		t.Fatalf("unexpected target %q", res.TargetURL)
	}
}

func TestResolveLink_GoneCacheShortCircuits(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)
	svc.gone = newTestGoneCache(t, 0)
	ctx := context.Background()

	link, err := svc.CreateLink(ctx, CreateLinkInput{
		OriginalURL: "https://example.com",
		MaxClicks:   1,
	})
	if err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}

	if res, err := svc.ResolveLink(ctx, link.ShortCode); err != nil || !res.Allowed() {
		t.Fatalf("first resolve must allow, got res=%+v err=%v", res, err)
	}

	// Wipe the backing store; the tombstone alone must answer now.
	store.mu.Lock()
	store.byCode = map[string]int64{}
	store.byID = map[int64]*model.Link{}
	store.mu.Unlock()

	res, err := svc.ResolveLink(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("cached resolve returned error: %v", err)
	}
	if res.Allowed() || res.Denial.Reason != ReasonInactive {
		t.Fatalf("expected cached ReasonInactive denial, got %+v", res)
	}
}
