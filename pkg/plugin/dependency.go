package plugin

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
)

var operatorPattern = regexp.MustCompile(`^(==|!=|>=|<=|>|<)\s*(\S+)$`)

// Dependency names a module a plugin needs loaded first, optionally
// constrained to a version or an inclusive version range. Minor and micro
// numbers may be a trailing * that matches any number.
//
//	name
//	name >= 1.2
//	name>=1.*
//	name 1.0-2.0
type Dependency struct {
	Name       string
	constraint *semver.Constraints
	raw        string
}

// ParseDependency parses one entry of a descriptor's Depends list. The
// module name runs up to the first space or operator. When only the
// version part is malformed the returned Dependency still carries the name
// and accepts any version, next to the error.
func ParseDependency(s string) (Dependency, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("<>=!", r)
	})
	if end < 0 {
		end = len(s)
	}
	if end == 0 {
		return Dependency{}, fmt.Errorf("invalid dependency string %q", s)
	}

	dep := Dependency{Name: s[:end], raw: s}
	rest := strings.TrimSpace(s[end:])
	if rest == "" {
		return dep, nil
	}

	expr, err := constraintExpr(rest)
	if err != nil {
		return dep, fmt.Errorf("invalid dependency string %q: %w", s, err)
	}
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return dep, fmt.Errorf("invalid dependency string %q: %w", s, err)
	}
	dep.constraint = c
	return dep, nil
}

// constraintExpr turns the version part of a dependency into a semver
// constraint expression.
func constraintExpr(rest string) (string, error) {
	if rest[0] >= '0' && rest[0] <= '9' {
		lowStr, highStr, ok := strings.Cut(rest, "-")
		if !ok {
			return "", errors.New("version range needs low-high")
		}
		low, err := normalizeVersion(strings.TrimSpace(lowStr))
		if err != nil {
			return "", err
		}
		high, err := normalizeVersion(strings.TrimSpace(highStr))
		if err != nil {
			return "", err
		}
		lv, lerr := semver.NewVersion(strings.ReplaceAll(low, "x", "0"))
		hv, herr := semver.NewVersion(strings.ReplaceAll(high, "x", "0"))
		if lerr != nil || herr != nil || !lv.LessThan(hv) {
			return "", fmt.Errorf("version range %s is empty", rest)
		}
		return fmt.Sprintf(">= %s, <= %s", low, high), nil
	}

	m := operatorPattern.FindStringSubmatch(rest)
	if m == nil {
		return "", fmt.Errorf("unknown operator in %q", rest)
	}
	v, err := normalizeVersion(m[2])
	if err != nil {
		return "", err
	}
	op := m[1]
	if op == "==" {
		op = "="
	}
	return fmt.Sprintf("%s %s", op, v), nil
}

// normalizeVersion checks a "major[.minor[.micro]]" version and rewrites a
// trailing * as the x wildcard semver constraints understand.
func normalizeVersion(v string) (string, error) {
	parts := strings.Split(v, ".")
	if v == "" || len(parts) > 3 {
		return "", fmt.Errorf("invalid version %q", v)
	}
	for i, p := range parts {
		if p == "*" && i > 0 && i == len(parts)-1 {
			parts[i] = "x"
			continue
		}
		if p == "" || strings.TrimFunc(p, unicode.IsDigit) != "" {
			return "", fmt.Errorf("invalid version %q", v)
		}
	}
	return strings.Join(parts, "."), nil
}

// Check reports whether a plugin version satisfies the dependency. An
// unconstrained dependency accepts anything, including no version at all.
func (d Dependency) Check(version string) bool {
	if d.constraint == nil {
		return true
	}
	if version == "" {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return d.constraint.Check(v)
}

// Constrained reports whether the dependency carries a version requirement.
func (d Dependency) Constrained() bool {
	return d.constraint != nil
}

func (d Dependency) String() string {
	if d.raw == "" {
		return d.Name
	}
	return d.raw
}

// SortByDependencies orders plugins so that every plugin comes after the
// plugins it depends on. Otherwise the input order is kept. Unknown
// dependencies are ignored and cycles are broken at the first plugin
// revisited.
func SortByDependencies(plugins []*PluginInfo) []*PluginInfo {
	byName := make(map[string]*PluginInfo, len(plugins))
	for _, p := range plugins {
		byName[strings.ToLower(p.ModuleName())] = p
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*PluginInfo]int, len(plugins))
	sorted := make([]*PluginInfo, 0, len(plugins))

	var visit func(p *PluginInfo)
	visit = func(p *PluginInfo) {
		if state[p] != unvisited {
			return
		}
		state[p] = visiting
		for _, dep := range p.dependencies {
			if d, ok := byName[strings.ToLower(dep.Name)]; ok && d != p {
				visit(d)
			}
		}
		state[p] = done
		sorted = append(sorted, p)
	}

	for _, p := range plugins {
		visit(p)
	}
	return sorted
}
