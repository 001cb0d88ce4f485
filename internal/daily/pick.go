package daily

import (
	"hash/fnv"
	"strings"

	"github.com/example/lexisync/pkg/models"
)

// PickIndex maps a seed string onto [0, n) with 32-bit FNV-1a. It has no
// hidden state: the same seed and n always give the same index. Returns -1
// when n is not positive.
func PickIndex(seed string, n int) int {
	if n <= 0 {
		return -1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int(h.Sum32() % uint32(n))
}

// Seed builds the pick seed for a learner, language, day and highlight kind
func Seed(username, lang, dayKey, kind string) string {
	return strings.Join([]string{username, lang, dayKey, kind}, "|")
}

var levelOrder = map[string]int{"A1": 1, "A2": 2, "B1": 3, "B2": 4, "C1": 5, "C2": 6}

// intermediate is the lowest level that counts as hard on its own
const intermediate = "B1"

// LevelAtLeast compares CEFR levels; unknown levels never qualify
func LevelAtLeast(level, min string) bool {
	l, ok := levelOrder[strings.ToUpper(strings.TrimSpace(level))]
	if !ok {
		return false
	}
	return l >= levelOrder[min]
}

// IsHard reports whether an item deserves a hard-word slot: its transcription
// carries one of the phonetic markers, its level is intermediate or above,
// its register is formal, or it has an irregular form.
func IsHard(item models.Item, markers string) bool {
	switch {
	case markers != "" && strings.ContainsAny(item.Transcription, markers):
		return true
	case LevelAtLeast(item.Level, intermediate):
		return true
	case strings.EqualFold(strings.TrimSpace(item.Register), "formal"):
		return true
	default:
		return item.HasIrregular
	}
}
