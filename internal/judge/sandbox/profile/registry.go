package profile

import (
	"sort"
	"strings"

	appErr "judgebox/pkg/errors"
)

// Registry resolves language identifiers to language specs. It is read-only after construction.
type Registry struct {
	languages map[string]LanguageSpec
	aliases   map[string]string
}

// NewRegistry builds a registry from the built-in table, with overrides replacing entries of the same id.
func NewRegistry(overrides []LanguageSpec) (*Registry, error) {
	r := &Registry{
		languages: make(map[string]LanguageSpec),
		aliases:   make(map[string]string),
	}
	for _, lang := range DefaultLanguages() {
		if err := r.add(lang); err != nil {
			return nil, err
		}
	}
	for _, lang := range overrides {
		if err := r.add(lang); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(lang LanguageSpec) error {
	id := normalizeID(lang.ID)
	if id == "" {
		return appErr.ValidationError("language.id", "required")
	}
	if lang.SourceFile == "" {
		return appErr.ValidationError("language.sourceFile", "required").WithDetail("language", id)
	}
	if strings.TrimSpace(lang.RunCmdTpl) == "" {
		return appErr.ValidationError("language.runCmd", "required").WithDetail("language", id)
	}
	if lang.CompileEnabled && strings.TrimSpace(lang.CompileCmdTpl) == "" {
		return appErr.ValidationError("language.compileCmd", "required").WithDetail("language", id)
	}
	if err := lang.compile(); err != nil {
		return appErr.Wrapf(err, appErr.InvalidValue, "invalid entry pattern for %s", id)
	}
	lang.ID = id
	if old, ok := r.languages[id]; ok {
		for _, alias := range old.Aliases {
			delete(r.aliases, normalizeID(alias))
		}
	}
	r.languages[id] = lang
	for _, alias := range lang.Aliases {
		if a := normalizeID(alias); a != "" && a != id {
			r.aliases[a] = id
		}
	}
	return nil
}

// Resolve returns the language spec for an id or alias, case-insensitively.
func (r *Registry) Resolve(id string) (LanguageSpec, error) {
	key := normalizeID(id)
	if key == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	lang, ok := r.languages[key]
	if !ok {
		return LanguageSpec{}, appErr.UnsupportedLanguage(id)
	}
	return lang, nil
}

// IDs lists canonical language ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
