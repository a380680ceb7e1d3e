package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContexts(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b, cancelB := context.WithCancel(context.Background())

	ctx, cancel := joinContexts(a, b)
	defer cancel()
	cancelB()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not cancelled by b")
	}

	a2, cancelA2 := context.WithCancel(context.Background())
	ctx2, cancel2 := joinContexts(a2, context.Background())
	defer cancel2()
	cancelA2()
	select {
	case <-ctx2.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not cancelled by a")
	}
}

func TestSetBaseContextNil(t *testing.T) {
	SetBaseContext(nil)
	if serverBaseCtx == nil || serverBaseCtx.Err() != nil {
		t.Fatalf("base context should default to Background")
	}
}
