package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_AppendDoesNotModifyReceiver(t *testing.T) {
	base := NewHistory(Turn{Question: "q1", Answer: "a1"})

	left := base.Append(Turn{Question: "left", Answer: "l"})
	right := base.Append(Turn{Question: "right", Answer: "r"})

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, []Turn{{"q1", "a1"}, {"left", "l"}}, left.Turns())
	assert.Equal(t, []Turn{{"q1", "a1"}, {"right", "r"}}, right.Turns())
}

func TestHistory_TurnsReturnsCopy(t *testing.T) {
	h := NewHistory(Turn{Question: "q", Answer: "a"})

	turns := h.Turns()
	turns[0].Answer = "changed"

	assert.Equal(t, "a", h.Turns()[0].Answer)
}

func TestHistory_ZeroValueIsEmpty(t *testing.T) {
	var h History
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Turns())
	assert.Equal(t, 1, h.Append(Turn{Question: "q"}).Len())
}

func TestAnswer_Turn(t *testing.T) {
	a := &Answer{Input: "who?", Answer: "Alice"}
	assert.Equal(t, Turn{Question: "who?", Answer: "Alice"}, a.Turn())
}
