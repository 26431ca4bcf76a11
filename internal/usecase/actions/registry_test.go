package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuiltins(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	ctx := context.Background()

	got, err := reg.HandleAction(ctx, ActionTestReachability, nil)
	require.NoError(t, err)
	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"connectable":true,"reason":null}`, string(b))

	for _, name := range []string{ActionListBans, ActionListEntities, ActionListLocations} {
		got, err := reg.HandleAction(ctx, name, json.RawMessage(`{"action":"`+name+`"}`))
		require.NoError(t, err, name)
		b, err := json.Marshal(got)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(b), name)
	}
}

func TestAvailableActionsIncludesRegistered(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	require.NoError(t, reg.Register("getPlayers", "List online players",
		func(context.Context, json.RawMessage) (any, error) { return []string{}, nil }))

	for _, alias := range []string{ActionGetAvailableActions, ActionHelp} {
		got, err := reg.HandleAction(context.Background(), alias, nil)
		require.NoError(t, err)
		list, ok := got.([]Descriptor)
		require.True(t, ok, "%T", got)

		var names []string
		for _, d := range list {
			names = append(names, d.Name)
		}
		assert.IsIncreasing(t, names)
		assert.Contains(t, names, "getPlayers")
		assert.Contains(t, names, ActionTestReachability)
	}
}

func TestUnknownAction(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	_, err := reg.HandleAction(context.Background(), "launchRockets", nil)
	require.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Contains(t, err.Error(), "launchRockets")
	assert.False(t, reg.Has("launchRockets"))
}

func TestRegisterValidation(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	fn := func(context.Context, json.RawMessage) (any, error) { return nil, nil }

	assert.Error(t, reg.Register("", "no name", fn))
	assert.Error(t, reg.Register("x", "no fn", nil))
}

func TestRegisterReplaces(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	require.NoError(t, reg.Register(ActionListBans, "Bans from the host",
		func(context.Context, json.RawMessage) (any, error) { return []string{"griefer"}, nil }))

	got, err := reg.HandleAction(context.Background(), ActionListBans, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"griefer"}, got)
}

func TestHandlerErrorPassesThrough(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	boom := errors.New("player not found")
	require.NoError(t, reg.Register("kickPlayer", "",
		func(context.Context, json.RawMessage) (any, error) { return nil, boom }))

	_, err := reg.HandleAction(context.Background(), "kickPlayer", nil)
	assert.Same(t, boom, err)
}

func TestPayloadReachesHandler(t *testing.T) {
	reg := New(WithLogger(testLogger()))
	var seen json.RawMessage
	require.NoError(t, reg.Register("sendMessage", "",
		func(_ context.Context, p json.RawMessage) (any, error) {
			seen = p
			return map[string]bool{"success": true}, nil
		}))

	payload := json.RawMessage(`{"action":"sendMessage","args":"{\"message\":\"hi\"}"}`)
	_, err := reg.HandleAction(context.Background(), "sendMessage", payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(seen))
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	reg := New(WithLogger(testLogger()), WithCircuitBreaker(2, 50*time.Millisecond))

	var mu sync.Mutex
	failing := true
	calls := 0
	require.NoError(t, reg.Register("getPlayers", "",
		func(context.Context, json.RawMessage) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if failing {
				return nil, errors.New("host api unavailable")
			}
			return "ok", nil
		}))

	ctx := context.Background()
	for range 2 {
		_, err := reg.HandleAction(ctx, "getPlayers", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrCircuitOpen)
	}

	_, err := reg.HandleAction(ctx, "getPlayers", nil)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrHandler)
	assert.Equal(t, domain.CodeCircuitOpen, domain.ErrorCodeOf(err))
	mu.Lock()
	assert.Equal(t, 2, calls, "open breaker must not reach the host")
	failing = false
	mu.Unlock()

	time.Sleep(70 * time.Millisecond)
	got, err := reg.HandleAction(ctx, "getPlayers", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	reg := New(WithLogger(testLogger()), WithCircuitBreaker(1, time.Minute))
	require.NoError(t, reg.Register("slow", "",
		func(ctx context.Context, _ json.RawMessage) (any, error) { return nil, ctx.Err() }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		_, err := reg.HandleAction(ctx, "slow", nil)
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestCircuitBreakerDisabledByBadSettings(t *testing.T) {
	reg := New(WithLogger(testLogger()), WithCircuitBreaker(0, time.Second))
	require.NoError(t, reg.Register("flaky", "",
		func(context.Context, json.RawMessage) (any, error) { return nil, errors.New("nope") }))

	for range 5 {
		_, err := reg.HandleAction(context.Background(), "flaky", nil)
		require.NotErrorIs(t, err, domain.ErrCircuitOpen)
	}
}

func TestConcurrentDispatch(t *testing.T) {
	reg := New(WithLogger(testLogger()), WithCircuitBreaker(100, time.Second))
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%4 == 0 {
				_ = reg.Register("dyn", "", func(context.Context, json.RawMessage) (any, error) { return i, nil })
			}
			_, _ = reg.HandleAction(context.Background(), ActionTestReachability, nil)
			_ = reg.Actions()
		}()
	}
	wg.Wait()
	assert.True(t, reg.Has("dyn"))
}
