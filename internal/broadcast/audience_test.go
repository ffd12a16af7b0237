package broadcast

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"ton_wallet_bot/internal/domain"
)

func TestParseAudienceFlag(t *testing.T) {
	tests := []struct {
		flag string
		want domain.AudienceKind
		ok   bool
	}{
		{"-all", domain.AudienceAll, true},
		{"-active", domain.AudienceConnected, true},
		{"-Connected", domain.AudienceConnected, true},
		{"-inactive", domain.AudienceInactive, true},
		{"-html", "", false},
		{"all", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseAudienceFlag(tt.flag)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseAudienceFlag(%q) = %q, %v; want %q, %v", tt.flag, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseTargetList(t *testing.T) {
	ids, err := ParseTargetList("3, 1,3,-100200")
	if err != nil {
		t.Fatalf("ParseTargetList returned error: %v", err)
	}
	if want := []int64{3, 1, -100200}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}

	for _, token := range []string{"", "12,abc", "12,,13", "0", "1.5", "12,"} {
		if _, err := ParseTargetList(token); !errors.Is(err, ErrInvalidTargetList) {
			t.Fatalf("ParseTargetList(%q) error = %v, want ErrInvalidTargetList", token, err)
		}
	}
}

func TestResolverSymbolicAudiences(t *testing.T) {
	dir := &stubDirectory{
		all:       []int64{5, 1, 2, 3, 1, 4},
		connected: []int64{4, 2, 2},
	}
	resolver := NewResolver(dir)
	ctx := context.Background()

	all, err := resolver.Resolve(ctx, domain.Audience{Kind: domain.AudienceAll})
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if want := []int64{5, 1, 2, 3, 4}; !reflect.DeepEqual(all, want) {
		t.Fatalf("all = %v, want %v", all, want)
	}

	connected, err := resolver.Resolve(ctx, domain.Audience{Kind: domain.AudienceConnected})
	if err != nil {
		t.Fatalf("resolve connected: %v", err)
	}
	if want := []int64{4, 2}; !reflect.DeepEqual(connected, want) {
		t.Fatalf("connected = %v, want %v", connected, want)
	}

	inactive, err := resolver.Resolve(ctx, domain.Audience{Kind: domain.AudienceInactive})
	if err != nil {
		t.Fatalf("resolve inactive: %v", err)
	}
	if want := []int64{5, 1, 3}; !reflect.DeepEqual(inactive, want) {
		t.Fatalf("inactive = %v, want %v", inactive, want)
	}
}

func TestResolverInactiveIgnoresOrdering(t *testing.T) {
	a := NewResolver(&stubDirectory{all: []int64{1, 2, 3, 4}, connected: []int64{2, 4}})
	b := NewResolver(&stubDirectory{all: []int64{4, 3, 2, 1}, connected: []int64{4, 2}})

	got1, _ := a.Resolve(context.Background(), domain.Audience{Kind: domain.AudienceInactive})
	got2, _ := b.Resolve(context.Background(), domain.Audience{Kind: domain.AudienceInactive})

	if !sameSet(got1, got2) || len(got1) != 2 {
		t.Fatalf("expected equal inactive sets, got %v and %v", got1, got2)
	}
}

func TestResolverEmptyStore(t *testing.T) {
	resolver := NewResolver(&stubDirectory{})

	for _, kind := range []domain.AudienceKind{domain.AudienceAll, domain.AudienceConnected, domain.AudienceInactive} {
		ids, err := resolver.Resolve(context.Background(), domain.Audience{Kind: kind})
		if err != nil {
			t.Fatalf("resolve %s on empty store: %v", kind, err)
		}
		if len(ids) != 0 {
			t.Fatalf("expected no recipients for %s, got %v", kind, ids)
		}
	}
}

func TestResolverExplicitDoesNotQueryDirectory(t *testing.T) {
	dir := &stubDirectory{err: errors.New("must not be called")}
	resolver := NewResolver(dir)

	ids, err := resolver.Resolve(context.Background(), domain.Audience{Kind: domain.AudienceExplicit, ChatIDs: []int64{7, 7, 8}})
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if want := []int64{7, 8}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("explicit = %v, want %v", ids, want)
	}
	if dir.calls != 0 {
		t.Fatalf("expected no directory calls, got %d", dir.calls)
	}
}

func TestResolverErrors(t *testing.T) {
	resolver := NewResolver(&stubDirectory{err: errors.New("mongo down")})
	if _, err := resolver.Resolve(context.Background(), domain.Audience{Kind: domain.AudienceAll}); err == nil {
		t.Fatalf("expected directory error to propagate")
	}

	if _, err := NewResolver(&stubDirectory{}).Resolve(context.Background(), domain.Audience{Kind: "weird"}); err == nil {
		t.Fatalf("expected error for unknown audience")
	}

	if _, err := NewResolver(nil).Resolve(context.Background(), domain.Audience{Kind: domain.AudienceAll}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

type stubDirectory struct {
	all       []int64
	connected []int64
	err       error
	calls     int
}

func (s *stubDirectory) AllChatIDs(context.Context) ([]int64, error) {
	s.calls++
	return append([]int64(nil), s.all...), s.err
}

func (s *stubDirectory) ConnectedChatIDs(context.Context) ([]int64, error) {
	s.calls++
	return append([]int64(nil), s.connected...), s.err
}

func sameSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]int)
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
