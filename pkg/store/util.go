package store

// ChunkRange walks [0, total) in chunkSize slices, calling fn with each
// half-open range. Batched inserts use it to stay under parameter limits.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings returns in without empties or duplicates, preserving order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FollowMerges resolves id through an old -> new merge map until it reaches a
// canonical id. A cycle (which the writer never produces) stops at the first
// revisit.
func FollowMerges(merges map[string]string, id string) string {
	seen := map[string]bool{}
	for {
		next, ok := merges[id]
		if !ok || seen[id] {
			return id
		}
		seen[id] = true
		id = next
	}
}
