package runner_test

import (
	"context"
	"testing"
	"time"

	"lectern/internal/runner"
)

func TestExchangePublishBeforeAwait(t *testing.T) {
	x := runner.NewExchange()
	x.Publish("transcript.document", "hello")

	value, err := x.Await(context.Background(), "transcript.document")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if value != "hello" {
		t.Fatalf("value = %v, want hello", value)
	}
}

func TestExchangeAwaitBlocksUntilPublish(t *testing.T) {
	x := runner.NewExchange()

	got := make(chan any, 1)
	go func() {
		value, err := x.Await(context.Background(), "key")
		if err != nil {
			t.Errorf("Await: %v", err)
		}
		got <- value
	}()

	time.Sleep(10 * time.Millisecond)
	x.Publish("key", 42)

	select {
	case value := <-got:
		if value != 42 {
			t.Fatalf("value = %v, want 42", value)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not wake on publish")
	}
}

func TestExchangeAwaitHonorsContext(t *testing.T) {
	x := runner.NewExchange()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := x.Await(ctx, "never"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestExchangePeek(t *testing.T) {
	x := runner.NewExchange()
	if _, ok := x.Peek("missing"); ok {
		t.Fatal("Peek reported a missing key")
	}
	x.Publish("k", "v")
	value, ok := x.Peek("k")
	if !ok || value != "v" {
		t.Fatalf("Peek = %v/%v, want v/true", value, ok)
	}
}
