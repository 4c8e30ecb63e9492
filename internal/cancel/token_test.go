package cancel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCancelIsOneShot(t *testing.T) {
	tok := New()
	var runs int
	tok.OnCancel(func() { runs++ })

	tok.Cancel()
	tok.Cancel()
	tok.Cancel()

	assert.Equal(t, 1, runs)
	assert.True(t, tok.Cancelled())
}

func TestOnCancelRunsImmediatelyIfAlreadyCancelled(t *testing.T) {
	tok := New()
	tok.Cancel()

	ran := false
	tok.OnCancel(func() { ran = true })
	assert.True(t, ran)
}

func TestDoneClosesOnCancel(t *testing.T) {
	tok := New()
	select {
	case <-tok.Done():
		t.Fatal("done closed before cancel")
	default:
	}

	tok.Cancel()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("done did not close after cancel")
	}
}

func TestLinkedTokenPropagatesFromParent(t *testing.T) {
	parent := New()
	child := NewLinked(parent)

	require.False(t, child.Cancelled())
	parent.Cancel()
	require.True(t, child.Cancelled())
}

func TestLinkedTokenAlreadyCancelledParent(t *testing.T) {
	parent := New()
	parent.Cancel()

	child := NewLinked(parent)
	assert.True(t, child.Cancelled())
}

func TestLinkedTokenMultipleParents(t *testing.T) {
	p1, p2 := New(), New()
	child := NewLinked(p1, p2)

	p2.Cancel()
	assert.True(t, child.Cancelled())
}

func TestCancellingChildDoesNotCancelParent(t *testing.T) {
	parent := New()
	child := NewLinked(parent)

	child.Cancel()
	assert.False(t, parent.Cancelled())
}
