// Package dedup rejects semantically near-duplicate candidates against a
// rolling window of recently published items, scoring each candidate
// with exact cosine comparison against the full published matrix, with
// an optional density-based clustering mode for tight semantic clusters
// pairwise thresholding misses.
package dedup

// Cache is the in-memory (ids, matrix) pair materialized from recently
// published embeddings. It is owned exclusively by one processor run: no
// lock guards it because nothing else touches it concurrently. Append is
// the only mutation, called once per successfully published item so later
// categories in the same run see earlier ones.
type Cache struct {
	ids    []int64
	matrix [][]float32
}

// NewCache builds a Cache from a snapshot of published (id, embedding)
// pairs, typically loaded once at the start of a processor run via
// storage.GetPublishedEmbeddings.
func NewCache(ids []int64, vectors [][]float32) *Cache {
	c := &Cache{
		ids:    make([]int64, len(ids)),
		matrix: make([][]float32, len(vectors)),
	}
	copy(c.ids, ids)
	copy(c.matrix, vectors)
	return c
}

// Len reports the number of published embeddings currently tracked.
func (c *Cache) Len() int {
	return len(c.ids)
}

// Append records one newly published item so subsequent FilterDuplicates
// calls within the same run see it. Call this only after the item's
// publication (and SavePublished) has actually succeeded.
func (c *Cache) Append(id int64, vector []float32) {
	c.ids = append(c.ids, id)
	c.matrix = append(c.matrix, vector)
}

// AppendAll appends multiple (id, vector) pairs in order, equivalent to
// calling Append once per pair.
func (c *Cache) AppendAll(ids []int64, vectors [][]float32) {
	for i := range ids {
		c.Append(ids[i], vectors[i])
	}
}

// snapshot copies the current matrix, used as the starting point for a
// FilterDuplicates pass so local "seen" growth during that pass never
// mutates the cache directly.
func (c *Cache) snapshot() ([]int64, [][]float32) {
	ids := make([]int64, len(c.ids))
	matrix := make([][]float32, len(c.matrix))
	copy(ids, c.ids)
	copy(matrix, c.matrix)
	return ids, matrix
}
