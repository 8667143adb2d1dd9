// Package queue provides the distance-ordered binary heaps used by the
// graph search routines.
package queue

// Item pairs a row id with its distance to the current query.
type Item struct {
	ID   uint32
	Dist float32
}

// Min is a binary min-heap of Items ordered by distance.
type Min struct {
	items []Item
}

func (h *Min) Len() int { return len(h.items) }

func (h *Min) Push(item Item) {
	h.items = append(h.items, item)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].Dist >= h.items[parent].Dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Min) Pop() Item {
	item := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	h.siftDown(0)
	return item
}

func (h *Min) siftDown(i int) {
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < len(h.items) && h.items[left].Dist < h.items[smallest].Dist {
			smallest = left
		}
		if right < len(h.items) && h.items[right].Dist < h.items[smallest].Dist {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}

// Max is a binary max-heap of Items ordered by distance, typically used to
// cap a result beam at a fixed width.
type Max struct {
	items []Item
}

func (h *Max) Len() int { return len(h.items) }

// Peek returns the worst (largest-distance) item without removing it.
func (h *Max) Peek() Item { return h.items[0] }

func (h *Max) Push(item Item) {
	h.items = append(h.items, item)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].Dist <= h.items[parent].Dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Max) Pop() Item {
	item := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	h.siftDown(0)
	return item
}

func (h *Max) siftDown(i int) {
	for {
		left, right := 2*i+1, 2*i+2
		largest := i
		if left < len(h.items) && h.items[left].Dist > h.items[largest].Dist {
			largest = left
		}
		if right < len(h.items) && h.items[right].Dist > h.items[largest].Dist {
			largest = right
		}
		if largest == i {
			return
		}
		h.items[i], h.items[largest] = h.items[largest], h.items[i]
		i = largest
	}
}

// Drain empties the max-heap and returns its items ordered best-first
// (ascending distance).
func (h *Max) Drain() []Item {
	out := make([]Item, len(h.items))
	for i := len(h.items) - 1; i >= 0; i-- {
		out[i] = h.Pop()
	}
	return out
}
