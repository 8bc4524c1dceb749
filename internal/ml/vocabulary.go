package ml

import (
	"encoding/json"
	"fmt"
)

// LabelVocabulary is the ordered set of emotion labels a classifier was
// trained on. Codes are assigned in first-seen order.
type LabelVocabulary struct {
	labels []string
	codes  map[string]int
}

// NewLabelVocabulary builds a vocabulary from labels in first-seen order,
// ignoring repeats and empty labels
func NewLabelVocabulary(labels []string) *LabelVocabulary {
	v := &LabelVocabulary{codes: make(map[string]int)}
	for _, l := range labels {
		v.Add(l)
	}
	return v
}

// Add registers a label if unseen and returns its code
func (v *LabelVocabulary) Add(label string) int {
	if code, ok := v.codes[label]; ok {
		return code
	}
	if label == "" {
		return -1
	}
	code := len(v.labels)
	v.labels = append(v.labels, label)
	v.codes[label] = code
	return code
}

// Code returns the code of label
func (v *LabelVocabulary) Code(label string) (int, bool) {
	code, ok := v.codes[label]
	return code, ok
}

// Label returns the label for code
func (v *LabelVocabulary) Label(code int) (string, bool) {
	if code < 0 || code >= len(v.labels) {
		return "", false
	}
	return v.labels[code], true
}

// Len is the number of labels
func (v *LabelVocabulary) Len() int { return len(v.labels) }

// Labels returns a copy of the labels ordered by code
func (v *LabelVocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

func (v *LabelVocabulary) MarshalJSON() ([]byte, error) {
	if v.labels == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.labels)
}

func (v *LabelVocabulary) UnmarshalJSON(data []byte) error {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	fresh := &LabelVocabulary{codes: make(map[string]int, len(labels))}
	for i, l := range labels {
		if l == "" {
			return fmt.Errorf("label vocabulary: empty label at code %d", i)
		}
		if _, dup := fresh.codes[l]; dup {
			return fmt.Errorf("label vocabulary: duplicate label %q", l)
		}
		fresh.Add(l)
	}
	*v = *fresh
	return nil
}
