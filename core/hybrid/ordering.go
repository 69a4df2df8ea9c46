package hybrid

import (
	"sort"

	"github.com/adalundhe/switchback/core/keys"
)

// Ordering lists variables in the order they are eliminated.
type Ordering []keys.Key

// DefaultOrdering eliminates all continuous variables first, each group in
// ascending key order. Discrete modes last keeps mixture factors legal for
// every continuous step.
func DefaultOrdering(graph *FactorGraph) Ordering {
	continuous := graph.ContinuousKeys()
	modes := graph.DiscreteKeys()
	out := make(Ordering, 0, len(continuous)+len(modes))
	out = append(out, keys.SortKeys(continuous)...)
	for _, dk := range keys.SortDiscrete(modes) {
		out = append(out, dk.Key)
	}
	return out
}

// Contains reports whether the ordering mentions k.
func (o Ordering) Contains(k keys.Key) bool {
	return keys.ContainsKey(o, k)
}

// split partitions the ordering into per-step frontal blocks, one block
// per continuous variable. When groupDiscrete is set, each maximal run of
// consecutive discrete variables becomes a single joint block; otherwise
// discrete variables are eliminated one at a time as well. dkeyOf resolves
// a key to its discrete declaration.
func (o Ordering) split(dkeyOf func(keys.Key) (keys.DiscreteKey, bool), groupDiscrete bool) []block {
	var blocks []block
	for _, k := range o {
		if dk, ok := dkeyOf(k); ok {
			if n := len(blocks); groupDiscrete && n > 0 && blocks[n-1].discrete != nil {
				blocks[n-1].discrete = append(blocks[n-1].discrete, dk)
				continue
			}
			blocks = append(blocks, block{discrete: []keys.DiscreteKey{dk}})
			continue
		}
		blocks = append(blocks, block{continuous: []keys.Key{k}})
	}
	for i := range blocks {
		if blocks[i].discrete != nil {
			blocks[i].discrete = keys.SortDiscrete(blocks[i].discrete)
		}
	}
	return blocks
}

type block struct {
	continuous []keys.Key
	discrete   []keys.DiscreteKey
}

func (b block) frontals() []keys.Key {
	if b.discrete != nil {
		out := make([]keys.Key, len(b.discrete))
		for i, dk := range b.discrete {
			out[i] = dk.Key
		}
		return out
	}
	return b.continuous
}

func sortedKeySet(set map[keys.Key]struct{}) []keys.Key {
	out := make([]keys.Key, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
