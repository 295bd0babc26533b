// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/pipe"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newCalculator(t *testing.T) *Client {
	t.Helper()
	server := localserver.New(nil)
	err := server.Register("/calc", NewService(func(c *Context) {
		c.BindMethod("add", func(_ context.Context, params any) (any, error) {
			operands, _ := params.([]any)
			var sum int64
			for _, operand := range operands {
				value, ok := operand.(int64)
				if !ok {
					return nil, errors.New("operands must be integers")
				}
				sum += value
			}
			return sum, nil
		})
		c.BindMethod("nothing", func(context.Context, any) (any, error) {
			return nil, nil
		})
		c.BindMethod("explode", func(context.Context, any) (any, error) {
			panic("boom")
		})
	}, nil))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := server.Connect(context.Background(), "/calc")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client := NewClient(p, nil)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCall(t *testing.T) {
	client := newCalculator(t)
	result, err := client.Call(testContext(t), "add", []any{int64(2), int64(3), int64(37)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != int64(42) {
		t.Errorf("add = %v, want 42", result)
	}
}

func TestCallNilResult(t *testing.T) {
	client := newCalculator(t)
	result, err := client.Call(testContext(t), "nothing", nil)
	if err != nil || result != nil {
		t.Errorf("nothing = %v, %v; want nil, nil", result, err)
	}
}

func TestCallErrors(t *testing.T) {
	client := newCalculator(t)
	tests := []struct {
		method string
		params any
		want   string
	}{
		{"add", []any{"two"}, "operands must be integers"},
		{"subtract", nil, `unknown method "subtract"`},
		{"explode", nil, "method panic: boom"},
	}
	for _, test := range tests {
		t.Run(test.method, func(t *testing.T) {
			_, err := client.Call(testContext(t), test.method, test.params)
			var serviceErr *Error
			if !errors.As(err, &serviceErr) {
				t.Fatalf("Call = %v, want *Error", err)
			}
			message, _ := serviceErr.Value.(string)
			if !strings.Contains(message, test.want) {
				t.Errorf("error = %q, want it to contain %q", message, test.want)
			}
			if serviceErr.Method != test.method {
				t.Errorf("Method = %q", serviceErr.Method)
			}
		})
	}
}

func TestConcurrentCallsMatchByID(t *testing.T) {
	client := newCalculator(t)
	ctx := testContext(t)
	results := make([]*Result, 10)
	for index := range results {
		result, err := client.Invoke(ctx, "add", []any{int64(index), int64(100)})
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		results[index] = result
	}
	for index := len(results) - 1; index >= 0; index-- {
		value, err := results[index].Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if value != int64(index+100) {
			t.Errorf("result %d = %v", index, value)
		}
		if results[index].ID != int64(index) {
			t.Errorf("ID = %d, want %d", results[index].ID, index)
		}
	}
}

func TestMultipleReplies(t *testing.T) {
	clientEnd, serverEnd := pipe.New()
	client := NewClient(clientEnd, nil)
	defer client.Close()
	ctx := testContext(t)

	result, err := client.Invoke(ctx, "watch", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	request, err := serverEnd.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	id := request.(map[string]any)["id"]
	serverEnd.Write(map[string]any{"id": id, "result": "first"})
	serverEnd.Write(map[string]any{"id": id, "result": "second"})
	serverEnd.Write(map[string]any{"id": id, "error": "third"})

	for _, want := range []string{"first", "second"} {
		if got, err := result.Next(ctx); err != nil || got != want {
			t.Fatalf("Next = %v, %v; want %s", got, err, want)
		}
	}
	if _, err := result.Next(ctx); err == nil {
		t.Fatal("third reply should be an error")
	}

	result.Close()
	serverEnd.Write(map[string]any{"id": id, "result": "late"})
	if _, err := result.Next(ctx); !errors.Is(err, pipe.ErrClosed) {
		t.Errorf("Next after Close = %v, want pipe.ErrClosed", err)
	}
}

func TestPipeCloseFailsPending(t *testing.T) {
	clientEnd, serverEnd := pipe.New()
	client := NewClient(clientEnd, nil)
	ctx := testContext(t)

	result, err := client.Invoke(ctx, "never", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	serverEnd.Close()
	if _, err := result.Next(ctx); !errors.Is(err, pipe.ErrClosed) {
		t.Errorf("Next = %v, want pipe.ErrClosed", err)
	}
	if _, err := client.Invoke(ctx, "again", nil); !errors.Is(err, pipe.ErrClosed) {
		t.Errorf("Invoke after close = %v, want pipe.ErrClosed", err)
	}
}

func TestNextHonorsContext(t *testing.T) {
	clientEnd, _ := pipe.New()
	client := NewClient(clientEnd, nil)
	defer client.Close()

	result, err := client.Invoke(context.Background(), "slow", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := result.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next = %v, want context.Canceled", err)
	}
}

func TestContextRunEndsOnClose(t *testing.T) {
	clientEnd, serverEnd := pipe.New()
	serviceContext := NewContext(serverEnd, nil)
	done := make(chan error, 1)
	go func() { done <- serviceContext.Run(context.Background()) }()

	clientEnd.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the pipe closed")
	}
}

func TestDuplicateBindPanics(t *testing.T) {
	_, serverEnd := pipe.New()
	serviceContext := NewContext(serverEnd, nil)
	serviceContext.BindMethod("x", func(context.Context, any) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("second BindMethod did not panic")
		}
	}()
	serviceContext.BindMethod("x", func(context.Context, any) (any, error) { return nil, nil })
}
