package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

var knownKeys = map[string]bool{
	"IAge":        true,
	"Module":      true,
	"Depends":     true,
	"Loader":      true,
	"Name":        true,
	"Description": true,
	"Icon":        true,
	"Authors":     true,
	"Copyright":   true,
	"Website":     true,
	"Version":     true,
	"Builtin":     true,
}

// DescriptorSuffix returns the file suffix of descriptors for an application.
func DescriptorSuffix(appName string) string {
	if appName == "" {
		return ".plugin"
	}
	return "." + strings.ToLower(appName) + "-plugin"
}

func sectionHeader(appName string) string {
	if appName == "" {
		return "Plugin"
	}
	return appName + " Plugin"
}

// ParseDescriptor reads one descriptor file. The data dir of the returned
// info is dataDir joined with the module name.
func ParseDescriptor(file, appName, moduleDir, dataDir string, locales []string) (*PluginInfo, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		IgnoreContinuation:  true,
		KeyValueDelimiters:  "=",
	}, file)
	if err != nil {
		return nil, &DescriptorParseError{File: file, Err: err}
	}

	sec, err := pluginSection(cfg, sectionHeader(appName))
	if err != nil {
		return nil, &DescriptorParseError{File: file, Err: err}
	}

	if !sec.HasKey("IAge") {
		return nil, &DescriptorParseError{File: file, Err: errors.New("missing IAge")}
	}
	iage, err := sec.Key("IAge").Int()
	if err != nil {
		return nil, &DescriptorParseError{File: file, Err: fmt.Errorf("invalid IAge: %w", err)}
	}
	if iage != SupportedIAge {
		return nil, &DescriptorParseError{File: file, Err: fmt.Errorf("unsupported IAge %d", iage)}
	}

	info := &PluginInfo{
		file:      file,
		moduleDir: moduleDir,
		iage:      iage,
		available: true,
	}

	info.moduleName = strings.TrimSpace(sec.Key("Module").String())
	if info.moduleName == "" {
		return nil, &DescriptorParseError{File: file, Err: errors.New("could not find 'Module'")}
	}

	info.name = localeString(sec, "Name", locales)
	if info.name == "" {
		return nil, &DescriptorParseError{File: file, Err: errors.New("could not find 'Name'")}
	}

	info.loaderID = strings.TrimSpace(sec.Key("Loader").String())
	if info.loaderID == "" {
		info.loaderID = DefaultLoaderID
	}

	for _, raw := range splitList(sec.Key("Depends").String()) {
		dep, err := ParseDependency(raw)
		if err != nil {
			info.warnings = append(info.warnings, err)
		}
		if dep.Name != "" {
			info.dependencies = append(info.dependencies, dep)
		}
	}

	info.description = localeString(sec, "Description", locales)
	info.iconName = localeString(sec, "Icon", locales)
	info.authors = splitList(sec.Key("Authors").String())
	info.copyright = sec.Key("Copyright").String()
	info.website = sec.Key("Website").String()
	info.version = sec.Key("Version").String()
	if b, ok := parseBool(sec.Key("Builtin").String()); ok {
		info.builtin = b
	}

	for _, key := range sec.Keys() {
		name := key.Name()
		if knownKeys[name] || knownKeys[baseKeyName(name)] {
			continue
		}
		if info.extra == nil {
			info.extra = make(map[string]any)
		}
		if b, ok := parseBool(key.String()); ok {
			info.extra[name] = b
		} else {
			info.extra[name] = key.String()
		}
	}

	if dataDir != "" {
		info.dataDir = filepath.Join(dataDir, info.moduleName)
	}

	return info, nil
}

// pluginSection picks the section named header, or the only section the
// file declares when the header does not match.
func pluginSection(cfg *ini.File, header string) (*ini.Section, error) {
	if sec, err := cfg.GetSection(header); err == nil {
		return sec, nil
	}

	var candidates []*ini.Section
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		candidates = append(candidates, sec)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return nil, fmt.Errorf("missing [%s] section", header)
}

func baseKeyName(key string) string {
	if i := strings.IndexByte(key, '['); i > 0 && strings.HasSuffix(key, "]") {
		return key[:i]
	}
	return key
}

// localeString returns key[locale] for the first locale present, then key.
func localeString(sec *ini.Section, key string, locales []string) string {
	for _, loc := range locales {
		localized := key + "[" + loc + "]"
		if sec.HasKey(localized) {
			if v := sec.Key(localized).String(); v != "" {
				return v
			}
		}
	}
	return sec.Key(key).String()
}

// splitList splits a key-file list value on ';' or ','.
func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseBool(value string) (bool, bool) {
	switch strings.TrimSpace(value) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
