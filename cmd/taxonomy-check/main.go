// Command taxonomy-check validates the built-in requirement taxonomy and
// prints a JSON summary of the type tree, field schemas, and endorsement
// coverage. CI runs it so a broken registry fails fast.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"reqcore/pkg/domain"
)

var exitFunc = os.Exit

type typeSummary struct {
	Tag        domain.TypeTag    `json:"tag"`
	Parent     domain.TypeTag    `json:"parent,omitempty"`
	Prefix     string            `json:"prefix,omitempty"`
	Abstract   bool              `json:"abstract,omitempty"`
	Fields     []string          `json:"fields,omitempty"`
	Categories []domain.Category `json:"categories,omitempty"`
}

type report struct {
	Types  []typeSummary `json:"types"`
	Errors []string      `json:"errors,omitempty"`
}

func buildReport(registry *domain.Registry) report {
	var rep report
	tags := registry.Tags()
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	for _, tag := range tags {
		spec, ok := registry.Spec(tag)
		if !ok {
			rep.Errors = append(rep.Errors, fmt.Sprintf("tag %s listed but has no spec", tag))
			continue
		}
		summary := typeSummary{Tag: tag, Parent: spec.Parent, Abstract: spec.Abstract}
		if prefix, ok := registry.Prefix(tag); ok {
			summary.Prefix = prefix
		} else if !spec.Abstract {
			rep.Errors = append(rep.Errors, fmt.Sprintf("concrete type %s has no id prefix", tag))
		}
		fields, err := registry.ResolveFields(tag)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("resolve fields for %s: %v", tag, err))
		}
		for _, rule := range fields {
			summary.Fields = append(summary.Fields, rule.Name)
		}
		sort.Strings(summary.Fields)
		categories, err := registry.RequiredCategories(tag)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("resolve categories for %s: %v", tag, err))
		}
		summary.Categories = categories
		rep.Types = append(rep.Types, summary)
	}
	return rep
}

func run(out *os.File, pretty bool) int {
	registry := domain.BuiltinRegistry()
	rep := buildReport(registry)

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintf(os.Stderr, "taxonomy-check: encode report: %v\n", err)
		return 1
	}
	if len(rep.Errors) > 0 {
		return 1
	}
	return 0
}

func main() {
	pretty := flag.Bool("pretty", false, "indent the JSON report")
	flag.Parse()
	exitFunc(run(os.Stdout, *pretty))
}
