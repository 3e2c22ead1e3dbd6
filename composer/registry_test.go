package composer

import (
	"context"
	"testing"
	"time"

	"graphmail/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDeliverMergesAsynchronously(t *testing.T) {
	r := NewRegistry(4)
	c := r.Open("alice", Options{Transport: &fakeTransport{}})
	require.NoError(t, c.SetRecipients("alice@example.com"))

	require.NoError(t, r.Deliver(context.Background(), "alice", c.ID(), Batch{contact("bob@example.com")}))
	require.NoError(t, r.Deliver(context.Background(), "alice", c.ID(), Batch{contact("carol@example.com")}))

	require.Eventually(t, func() bool {
		return c.Draft().Recipients == "alice@example.com,bob@example.com,carol@example.com"
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryIsolatesOwners(t *testing.T) {
	r := NewRegistry(1)
	c := r.Open("alice", Options{Transport: &fakeTransport{}})

	got, err := r.Get("alice", c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = r.Get("mallory", c.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Deliver(context.Background(), "mallory", c.ID(), Batch{contact("x@y.z")}), ErrNotFound)

	assert.Equal(t, 1, r.Count("alice"))
	assert.Zero(t, r.Count("mallory"))
}

func TestRegistryForgetsClosedComposers(t *testing.T) {
	r := NewRegistry(1)
	var closed int
	c := r.Open("alice", Options{Transport: &fakeTransport{}, OnClose: func() { closed++ }})

	_, err := c.Submit(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	_, err = r.Get("alice", c.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Deliver(context.Background(), "alice", c.ID(), Batch{contact("x@y.z")}), ErrNotFound)
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry(1)
	a1 := r.Open("alice", Options{Transport: &fakeTransport{}})
	r.Open("alice", Options{Transport: &fakeTransport{}})
	b := r.Open("bob", Options{Transport: &fakeTransport{}})

	r.CloseAll("alice")
	assert.Zero(t, r.Count("alice"))
	assert.True(t, a1.Closed())
	assert.Equal(t, 1, r.Count("bob"))
	assert.False(t, b.Closed())

	r.CloseAll("")
	assert.Zero(t, r.Count("bob"))
}

func TestRegistryDeliverAfterDiscard(t *testing.T) {
	r := NewRegistry(1)
	c := r.Open("alice", Options{Transport: &fakeTransport{}})
	require.NoError(t, c.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Deliver(ctx, "alice", c.ID(), Batch{contact("x@y.z")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryDeliverUnblocksWhenComposerCloses(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	r := NewRegistry(1)
	c := r.Open("alice", Options{
		Transport: &fakeTransport{},
		// hold the listener inside the first merge
		OnChange: func(models.Draft) { <-gate },
	})

	require.NoError(t, r.Deliver(context.Background(), "alice", c.ID(), Batch{contact("a@x.com")}))
	require.Eventually(t, func() bool {
		return c.Draft().Recipients == "a@x.com"
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Deliver(context.Background(), "alice", c.ID(), Batch{contact("b@x.com")}))

	result := make(chan error, 1)
	go func() {
		result <- r.Deliver(context.Background(), "alice", c.ID(), Batch{contact("c@x.com")})
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Discard())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Deliver still blocked after the composer closed")
	}
}
