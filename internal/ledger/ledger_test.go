package ledger

import (
	"context"
	"testing"
)

func TestNewNopKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"", "none"} {
		l, err := New(context.Background(), Config{Kind: kind})
		if err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
		if _, ok := l.(Nop); !ok {
			t.Errorf("New(%q) = %T, want Nop", kind, l)
		}
	}
}

func TestNewUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{Kind: "bogus"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	f := func(context.Context, Config) (Ledger, error) { return Nop{}, nil }
	Register("dup-test", f)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("dup-test", f)
}

func TestNopIsInert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var l Ledger = Nop{}
	if err := l.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.StartRun(ctx, Run{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordFailures(ctx, "x", 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.FinishRun(ctx, "x", Summary{}); err != nil {
		t.Fatal(err)
	}
	l.Close()
}
