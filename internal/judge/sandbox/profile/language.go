// Package profile defines language and task profiles used by the sandbox.
package profile

import (
	"path/filepath"
	"regexp"
	"strings"
)

// LanguageSpec defines how to compile and run a language.
type LanguageSpec struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	Aliases        []string `yaml:"aliases"`
	SourceFile     string   `yaml:"sourceFile"`
	BinaryFile     string   `yaml:"binaryFile"`
	CompileEnabled bool     `yaml:"compileEnabled"`
	CompileCmdTpl  string   `yaml:"compileCmd"`
	RunCmdTpl      string   `yaml:"runCmd"`
	Env            []string `yaml:"env"`
	// Image is the execution environment used by the container backend.
	Image string `yaml:"image"`
	// EntryPattern extracts the entry point name from the source, e.g. the public class of a Java file.
	// The first capture group replaces the source file stem and the {main} placeholder.
	EntryPattern     string  `yaml:"entryPattern"`
	TimeMultiplier   float64 `yaml:"timeMultiplier"`
	MemoryMultiplier float64 `yaml:"memoryMultiplier"`

	entry *regexp.Regexp
}

// MainName is the entry point name used for the {main} placeholder.
func (l LanguageSpec) MainName() string {
	base := filepath.Base(l.SourceFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ForSource returns a copy whose source file follows the entry point declared in code.
// Languages without an entry pattern, or sources without a match, are returned unchanged.
func (l LanguageSpec) ForSource(code string) LanguageSpec {
	if l.entry == nil {
		return l
	}
	m := l.entry.FindStringSubmatch(code)
	if len(m) < 2 || m[1] == "" {
		return l
	}
	out := l
	out.SourceFile = m[1] + filepath.Ext(l.SourceFile)
	return out
}

func (l *LanguageSpec) compile() error {
	if l.EntryPattern == "" {
		l.entry = nil
		return nil
	}
	re, err := regexp.Compile(l.EntryPattern)
	if err != nil {
		return err
	}
	l.entry = re
	return nil
}

const javaEntryPattern = `(?m)^\s*public\s+(?:final\s+|abstract\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:         "python",
			Name:       "Python",
			Version:    "3.11",
			Aliases:    []string{"py", "python3"},
			SourceFile: "Main.py",
			RunCmdTpl:  "python3 -u {src}",
			Env:        []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"},
			Image:      "python:3.11-slim",
		},
		{
			ID:         "javascript",
			Name:       "JavaScript",
			Version:    "20",
			Aliases:    []string{"js", "node"},
			SourceFile: "Main.js",
			RunCmdTpl:  "node {src}",
			Image:      "node:20",
		},
		{
			ID:               "java",
			Name:             "Java",
			Version:          "21",
			SourceFile:       "Main.java",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -J-Xss64m -encoding UTF-8 -d {dir} {src}",
			RunCmdTpl:        "java -Xss64m -XX:+UseSerialGC -cp {dir} {main}",
			Image:            "openjdk:21",
			EntryPattern:     javaEntryPattern,
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
		},
		{
			ID:             "cpp",
			Name:           "C++",
			Version:        "17",
			Aliases:        []string{"c++", "cc"},
			SourceFile:     "Main.cpp",
			BinaryFile:     "Main",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -std=c++17 -O2 -pipe -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			Image:          "gcc:13.1.0",
		},
		{
			ID:             "c",
			Name:           "C",
			Version:        "11",
			SourceFile:     "Main.c",
			BinaryFile:     "Main",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc -std=c11 -O2 -pipe -o {bin} {src} -lm",
			RunCmdTpl:      "{bin}",
			Image:          "gcc:13.1.0",
		},
	}
}
