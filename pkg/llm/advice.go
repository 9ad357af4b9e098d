package llm

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

const maxAdvice = 5

var numberedMarker = regexp.MustCompile(`^\d+[.)]\s*`)

// ParseAdvice splits a model answer into at most five advice lines. List
// markers are stripped; headers and fragments of five characters or fewer
// are skipped. When nothing survives, the trimmed answer is the only line.
func ParseAdvice(answer string) []string {
	var advice []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || isHeader(line) {
			continue
		}
		for _, marker := range []string{"- ", "* ", "> ", "• "} {
			line = strings.TrimPrefix(line, marker)
		}
		line = strings.TrimSpace(numberedMarker.ReplaceAllString(line, ""))
		if len(line) <= 5 {
			continue
		}
		advice = append(advice, line)
		if len(advice) == maxAdvice {
			break
		}
	}

	if len(advice) == 0 {
		if trimmed := strings.TrimSpace(answer); trimmed != "" {
			return []string{trimmed}
		}
	}
	return advice
}

func isHeader(line string) bool {
	lower := strings.ToLower(strings.TrimSuffix(line, ":"))
	switch lower {
	case "advice", "tips", "recommendations", "öneriler":
		return true
	}
	return false
}

const maxRecentTips = 10

// RecentTips remembers the last advice lines shown so the overlay does not
// repeat itself. Matching ignores case and surrounding space.
type RecentTips struct {
	mu     sync.Mutex
	recent []string
	size   int
}

func NewRecentTips(size int) *RecentTips {
	if size <= 0 {
		size = maxRecentTips
	}
	return &RecentTips{size: size}
}

// Filter drops lines shown recently and remembers the ones it keeps. When
// every line was shown recently, advice is returned unchanged.
func (r *RecentTips) Filter(advice []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []string
	for _, line := range advice {
		if !r.seen(tipKey(line)) {
			fresh = append(fresh, line)
		}
	}
	if len(fresh) == 0 {
		return advice
	}
	for _, line := range fresh {
		key := tipKey(line)
		if r.seen(key) {
			continue
		}
		r.recent = append(r.recent, key)
		if len(r.recent) > r.size {
			r.recent = r.recent[1:]
		}
	}
	return fresh
}

func (r *RecentTips) seen(key string) bool {
	return slices.Contains(r.recent, key)
}

func tipKey(line string) string {
	return strings.ToLower(strings.TrimSpace(line))
}
