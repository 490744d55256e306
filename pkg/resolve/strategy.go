package resolve

// Strategy scores the similarity of two canonical names in [0, 1].
// Implementations must be deterministic so resolution stays reproducible;
// tests and callers pick a concrete strategy explicitly.
type Strategy interface {
	Name() string
	Similarity(a, b string) float64
}

// Exact matches only identical strings. Useful as a pinned strategy in tests
// and for body-name resolution where no fuzziness is wanted.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) Similarity(a, b string) float64 {
	if a == b && a != "" {
		return 1.0
	}
	return 0.0
}

// JaroWinkler is the default strategy for person and company names: tolerant
// of transpositions and favoring shared prefixes.
type JaroWinkler struct{}

func (JaroWinkler) Name() string { return "jaro_winkler" }

func (JaroWinkler) Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0

	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b)-1, i+matchDist)
		for j := start; j <= end; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro := (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3

	prefix := 0
	for i := 0; i < min(len(a), len(b), 4); i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

// Levenshtein scores by normalized edit distance. Stricter than JaroWinkler
// on transposed tokens; provided as an alternative policy.
type Levenshtein struct{}

func (Levenshtein) Name() string { return "levenshtein" }

func (Levenshtein) Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	dist := prev[len(b)]
	longest := max(len(a), len(b))
	return 1.0 - float64(dist)/float64(longest)
}
