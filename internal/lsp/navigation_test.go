package lsp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavigationHistory_PushPop(t *testing.T) {
	h := NewNavigationHistory(0)
	assert.True(t, h.Empty())

	loc1 := Location{Path: "file1.rs", Position: Position{Line: 10, Column: 5}}
	loc2 := Location{Path: "file2.rs", Position: Position{Line: 20, Column: 15}}
	h.Push(loc1)
	h.Push(loc2)
	assert.Equal(t, 2, h.Depth())

	got, ok := h.Pop()
	require.True(t, ok)
	assert.Equal(t, loc2, got)

	got, ok = h.Pop()
	require.True(t, ok)
	assert.Equal(t, loc1, got)

	assert.True(t, h.Empty())
	_, ok = h.Pop()
	assert.False(t, ok)
}

func TestNavigationHistory_DropsOldest(t *testing.T) {
	h := NewNavigationHistory(0)
	for i := 0; i < 60; i++ {
		h.Push(Location{Path: fmt.Sprintf("file%d.rs", i), Position: Position{Line: i}})
	}
	assert.Equal(t, DefaultMaxHistory, h.Depth())

	top, _ := h.Pop()
	assert.Equal(t, "file59.rs", top.Path)

	var last Location
	for !h.Empty() {
		last, _ = h.Pop()
	}
	assert.Equal(t, "file10.rs", last.Path)
}

func TestNavigationHistory_Clear(t *testing.T) {
	h := NewNavigationHistory(3)
	h.Push(Location{Path: "a"})
	h.Push(Location{Path: "b"})
	h.Clear()

	assert.True(t, h.Empty())
	assert.Zero(t, h.Depth())
}
