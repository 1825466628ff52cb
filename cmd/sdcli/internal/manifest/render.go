// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
)

//go:embed templates/*.yaml
var templateFS embed.FS

var (
	// ErrMissingSubstitution is returned when a placeholder has no value.
	ErrMissingSubstitution = errors.New("missing substitution")

	// ErrMalformedManifest is returned when a rendered manifest does not
	// parse as a compose document.
	ErrMalformedManifest = errors.New("rendered manifest is malformed")
)

// placeholder matches ${KEY}. "$$" is left for compose to unescape.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Template returns the raw embedded template for kind.
func Template(kind fingerprint.Kind) ([]byte, error) {
	data, err := templateFS.ReadFile("templates/" + kind.Spec().Template)
	if err != nil {
		return nil, fmt.Errorf("load template for %s: %w", kind, err)
	}
	return data, nil
}

// Render substitutes subs into the template of kind.
//
// Every key of the kind's substitution set must have a non-empty value, and
// the template may not reference any other key. Both checks run before the
// output is produced, so a failed render never reaches disk. The result
// must parse as YAML with a non-empty "services" mapping.
func Render(kind fingerprint.Kind, subs map[string]string) ([]byte, error) {
	spec := kind.Spec()

	allowed := make(map[string]bool, len(spec.SubstitutionKeys))
	var missing []string
	for _, key := range spec.SubstitutionKeys {
		allowed[key] = true
		if subs[key] == "" {
			missing = append(missing, key)
		}
	}
	for key := range subs {
		if !allowed[key] {
			return nil, fmt.Errorf("%s does not accept substitution %s", spec.Name, key)
		}
	}

	tmpl, err := Template(kind)
	if err != nil {
		return nil, err
	}
	for _, m := range placeholder.FindAllSubmatch(tmpl, -1) {
		if key := string(m[1]); !allowed[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s template requires %s", ErrMissingSubstitution, spec.Name, strings.Join(dedupe(missing), ", "))
	}

	out := placeholder.ReplaceAllFunc(tmpl, func(match []byte) []byte {
		key := string(placeholder.FindSubmatch(match)[1])
		return []byte(subs[key])
	})

	if err := checkStructure(out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkStructure parses out the way compose would, catching values that
// broke quoting before the runtime sees them.
func checkStructure(out []byte) error {
	var doc struct {
		Services map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	if len(doc.Services) == 0 {
		return fmt.Errorf("%w: no services defined", ErrMalformedManifest)
	}
	return nil
}

func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
