package plugin

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

// localeEnv lists the variables consulted for message locales, by priority.
var localeEnv = []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"}

// SystemLocales returns the descriptor key suffixes to try for the current
// environment, most specific first, e.g. ["pt_BR", "pt"].
func SystemLocales() []string {
	for _, env := range localeEnv {
		value := os.Getenv(env)
		if value == "" {
			continue
		}
		var names []string
		for _, entry := range strings.Split(value, ":") {
			names = append(names, LocaleCandidates(entry)...)
		}
		if len(names) > 0 {
			return dedupe(names)
		}
	}
	return nil
}

// LocaleCandidates expands a POSIX or BCP 47 locale name into key-file
// suffixes. The C and POSIX locales expand to nothing.
func LocaleCandidates(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" || name == "C" || name == "POSIX" || strings.HasPrefix(name, "C.") {
		return nil
	}

	modifier := ""
	if i := strings.IndexByte(name, '@'); i >= 0 {
		modifier = name[i:]
		name = name[:i]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}

	tag, err := language.Parse(strings.ReplaceAll(name, "_", "-"))
	if err != nil {
		return nil
	}
	base, conf := tag.Base()
	if conf == language.No {
		return nil
	}

	var out []string
	if region, rconf := tag.Region(); rconf == language.Exact {
		full := base.String() + "_" + region.String()
		if modifier != "" {
			out = append(out, full+modifier)
		}
		out = append(out, full)
	}
	if modifier != "" {
		out = append(out, base.String()+modifier)
	}
	return append(out, base.String())
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
