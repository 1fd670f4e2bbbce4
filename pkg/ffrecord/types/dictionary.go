package types

import (
	"fmt"
	"strings"
)

type DictionaryItem struct {
	Key   string
	Value string
}

type DictionaryItems []DictionaryItem

// Deduplicate keeps only the last value of every key, preserving the order
// of the first occurrences.
func (s DictionaryItems) Deduplicate() DictionaryItems {
	idxByKey := make(map[string]int, len(s))
	var r DictionaryItems
	for _, item := range s {
		if idx, ok := idxByKey[item.Key]; ok {
			r[idx].Value = item.Value
			continue
		}
		idxByKey[item.Key] = len(r)
		r = append(r, item)
	}
	return r
}

func (s DictionaryItems) Get(key string) (string, bool) {
	for idx := len(s) - 1; idx >= 0; idx-- {
		if s[idx].Key == key {
			return s[idx].Value, true
		}
	}
	return "", false
}

// ParseDictionaryItem parses "key=value".
func ParseDictionaryItem(s string) (DictionaryItem, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return DictionaryItem{}, fmt.Errorf("expected 'key=value', got %q", s)
	}
	return DictionaryItem{Key: key, Value: value}, nil
}
