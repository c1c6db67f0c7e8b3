package memory

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// QueryMaxKeywords bounds extraction for search queries.
	QueryMaxKeywords = 10
	// IndexMaxKeywords bounds extraction for indexed workflow prompts.
	IndexMaxKeywords = 15
)

var stopwords = func() map[string]struct{} {
	list := []string{
		"a", "an", "the", "and", "or", "but", "is", "are", "was", "were",
		"be", "been", "being", "have", "has", "had", "do", "does", "did",
		"will", "would", "could", "should", "may", "might", "must", "shall",
		"can", "to", "of", "in", "for", "on", "with", "at", "by", "from",
		"as", "into", "through", "during", "before", "after", "above",
		"below", "between", "under", "again", "further", "then", "once",
		"here", "there", "when", "where", "why", "how", "all", "each",
		"few", "more", "most", "other", "some", "such", "no", "nor", "not",
		"only", "own", "same", "so", "than", "too", "very", "just", "also",
		"now", "this", "that", "these", "those", "i", "me", "my", "we", "our",
		"you", "your", "he", "him", "his", "she", "her", "it", "its", "they",
		"them", "their", "what", "which", "who", "whom", "please",
		"thanks", "thank", "sorry", "help", "make", "want", "like", "know",
		"think", "take", "see", "come", "use", "find", "give", "tell",
	}
	m := make(map[string]struct{}, len(list))
	for _, w := range list {
		m[w] = struct{}{}
	}
	return m
}()

var wordPattern = regexp.MustCompile(`[a-z]+`)

// KeywordExtractor pulls salient terms from free-form prompts. Extraction is
// deterministic: lowercase alphabetic runs of three or more characters, minus
// a fixed stopword set, ranked by frequency with first occurrence breaking
// ties.
type KeywordExtractor struct {
	maxKeywords int
}

func NewKeywordExtractor(maxKeywords int) *KeywordExtractor {
	if maxKeywords <= 0 {
		maxKeywords = QueryMaxKeywords
	}
	return &KeywordExtractor{maxKeywords: maxKeywords}
}

// NewQueryKeywordExtractor builds the extractor used at search time.
func NewQueryKeywordExtractor() *KeywordExtractor {
	return NewKeywordExtractor(QueryMaxKeywords)
}

// NewIndexKeywordExtractor builds the extractor used when recording workflows.
func NewIndexKeywordExtractor() *KeywordExtractor {
	return NewKeywordExtractor(IndexMaxKeywords)
}

func (e *KeywordExtractor) Extract(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, word := range words {
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		if _, seen := counts[word]; !seen {
			firstSeen[word] = i
		}
		counts[word]++
	}

	var keywords []string
	for word := range counts {
		keywords = append(keywords, word)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return firstSeen[keywords[i]] < firstSeen[keywords[j]]
	})

	if len(keywords) > e.maxKeywords {
		keywords = keywords[:e.maxKeywords]
	}
	return keywords
}

// ExtractAsString returns the extracted keywords joined by commas, the form
// stored alongside workflow rows.
func (e *KeywordExtractor) ExtractAsString(text string) string {
	return strings.Join(e.Extract(text), ",")
}
