package pipeline

// batcher accumulates fetched entry IDs and cuts fixed-size batches as the
// threshold fills. IDs arrive from concurrent host fetchers in completion
// order, so batch membership is not deterministic, only batch sizing is.
type batcher struct {
	size int
	ids  []string
}

func newBatcher(size int) *batcher {
	if size <= 0 {
		size = 1
	}
	return &batcher{size: size}
}

// add appends ids and returns every full batch the addition completed.
func (b *batcher) add(ids ...string) [][]string {
	b.ids = append(b.ids, ids...)
	var full [][]string
	for len(b.ids) >= b.size {
		batch := make([]string, b.size)
		copy(batch, b.ids[:b.size])
		b.ids = b.ids[b.size:]
		full = append(full, batch)
	}
	return full
}

// flush returns the remaining partial batch, leaving the batcher empty.
func (b *batcher) flush() []string {
	rest := b.ids
	b.ids = nil
	return rest
}
