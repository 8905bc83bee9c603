package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ResponseLabel returns the anonymization label for position i: "Response A"
// through "Response Z", then "Response AA", "Response AB" and so on.
func ResponseLabel(i int) string {
	var letters []byte
	n := i
	for {
		letters = append([]byte{byte('A' + n%26)}, letters...)
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return fmt.Sprintf("Response %s", letters)
}

// AssignLabels assigns anonymization labels to Stage-1 results in input
// order. Labels key on position, never on model identity, so duplicate
// model ids still receive distinct labels and the returned label-to-model
// map is a bijection of exactly len(results) entries.
func AssignLabels(results []Stage1Response) ([]LabeledResponse, map[string]string) {
	labeled := make([]LabeledResponse, 0, len(results))
	labelToModel := make(map[string]string, len(results))

	for i, result := range results {
		label := ResponseLabel(i)
		labelToModel[label] = result.Model
		labeled = append(labeled, LabeledResponse{
			Label:    label,
			Response: result.Response,
		})
	}

	return labeled, labelToModel
}

// ModelShortName returns the display name for a model identifier: the part
// after the last namespace separator, or the whole id if there is none
// (e.g. "openai/gpt-5.1" -> "gpt-5.1").
func ModelShortName(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// Deanonymize replaces every occurrence of every known label in text with
// a bold rendering of the mapped model's short name. Matching is on whole
// labels only, so "Response A" never fires inside "Response AB". Labels
// absent from the map are left untouched.
func Deanonymize(text string, labelToModel map[string]string) string {
	if len(labelToModel) == 0 {
		return text
	}

	// Longer labels first so "Response AB" is rewritten before "Response A"
	// gets a chance to match its prefix.
	labels := make([]string, 0, len(labelToModel))
	for label := range labelToModel {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if len(labels[i]) != len(labels[j]) {
			return len(labels[i]) > len(labels[j])
		}
		return labels[i] < labels[j]
	})

	for _, label := range labels {
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(label) + `\b`)
		replacement := "**" + ModelShortName(labelToModel[label]) + "**"
		text = pattern.ReplaceAllString(text, replacement)
	}

	return text
}
