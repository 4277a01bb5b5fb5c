package publish

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// OrderingConfig names the district clusters recognized by the listing sort.
//   - Series: numbered series prefixes ("Yunusobod - 5", "Ц - 1") in rank order.
//   - FixedNames: named districts ranked after every series, in list order.
type OrderingConfig struct {
	Series     []string `mapstructure:"series"`
	FixedNames []string `mapstructure:"fixed_names"`
}

// DefaultOrdering is used when no ordering is configured.
var DefaultOrdering = OrderingConfig{
	Series:     []string{"Yunusobod", "Ц"},
	FixedNames: []string{"Bodomzor", "Minor", "Kashgar", "Shahriston"},
}

// Orderer sorts listings by cluster rank, series number and the room/floor/height triple.
type Orderer struct {
	series []string
	fixed  map[string]int
}

type clusterKey struct {
	rank  int
	num   int
	known bool
}

// NewOrderer builds an Orderer. An empty config falls back to DefaultOrdering.
func NewOrderer(cfg OrderingConfig) *Orderer {
	if len(cfg.Series) == 0 && len(cfg.FixedNames) == 0 {
		cfg = DefaultOrdering
	}
	o := &Orderer{
		series: make([]string, 0, len(cfg.Series)),
		fixed:  make(map[string]int, len(cfg.FixedNames)),
	}
	for _, s := range cfg.Series {
		o.series = append(o.series, normalizeName(s))
	}
	for i, name := range cfg.FixedNames {
		key := normalizeName(name)
		if _, dup := o.fixed[key]; !dup {
			o.fixed[key] = i
		}
	}
	return o
}

// Sort orders listings in place. The sort is stable.
func (o *Orderer) Sort(listings []Listing) {
	slices.SortStableFunc(listings, o.Compare)
}

// Compare implements the listing order as a three-way comparison.
func (o *Orderer) Compare(a, b Listing) int {
	ka, kb := o.classify(a.Kvartil), o.classify(b.Kvartil)
	if c := cmp.Compare(ka.rank, kb.rank); c != 0 {
		return c
	}
	if !ka.known {
		return cmp.Compare(a.Seq, b.Seq)
	}
	if c := cmp.Compare(ka.num, kb.num); c != 0 {
		return c
	}
	xa, xb := ParseXet(a.Xet), ParseXet(b.Xet)
	for i := range xa {
		if c := cmp.Compare(xa[i], xb[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Seq, b.Seq)
}

func (o *Orderer) classify(kvartil string) clusterKey {
	name := normalizeName(kvartil)
	for rank, prefix := range o.series {
		if num, ok := seriesNumber(name, prefix); ok {
			return clusterKey{rank: rank, num: num, known: true}
		}
	}
	if idx, ok := o.fixed[name]; ok {
		return clusterKey{rank: len(o.series), num: idx, known: true}
	}
	return clusterKey{rank: len(o.series) + 1}
}

func seriesNumber(name, prefix string) (int, bool) {
	if prefix == "" || !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(name, prefix), "-")
	if rest == "" {
		return 0, false
	}
	num, err := strconv.Atoi(rest)
	if err != nil || num < 0 {
		return 0, false
	}
	return num, true
}

func normalizeName(v string) string {
	return strings.ToLower(NormalizeField(v))
}

// ParseXet splits an "R/F/H" string into rooms, floor and building height.
// Missing or malformed parts read as zero.
func ParseXet(xet string) [3]int {
	var out [3]int
	parts := strings.SplitN(NormalizeField(xet), "/", 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}
