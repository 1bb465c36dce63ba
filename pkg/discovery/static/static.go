package static

import (
	"strings"

	"github.com/clusterbits/groupmon/pkg/discovery"
)

type fixed struct {
	seeds []string
}

func (f *fixed) Seeds() []string { return append([]string(nil), f.seeds...) }

// New returns a Discovery over a fixed seed list. Blank entries are dropped.
func New(seeds ...string) discovery.Discovery {
	cleaned := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return &fixed{seeds: cleaned}
}
