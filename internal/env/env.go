package env

import (
	"bufio"
	"os"
	"sort"
	"strings"
)

// Env composes the environment handed to the backend child process.
// Precedence, lowest to highest: OS environment (optional), env files in
// order, explicit Set entries.
type Env struct {
	useOS bool
	files []string
	vars  map[string]string
}

func New() *Env { return &Env{vars: make(map[string]string)} }

// UseOS includes the launcher's own environment as the base.
func (e *Env) UseOS() *Env {
	e.useOS = true
	return e
}

// UseOSIf includes the OS environment only when use is true.
func (e *Env) UseOSIf(use bool) *Env {
	if use {
		e.useOS = true
	}
	return e
}

// AddFile appends an env file (KEY=VALUE lines, # comments) to the merge.
func (e *Env) AddFile(path string) *Env {
	e.files = append(e.files, path)
	return e
}

// AddFiles appends several env files in order.
func (e *Env) AddFiles(paths []string) *Env {
	e.files = append(e.files, paths...)
	return e
}

// Set records an explicit KEY=VALUE override.
func (e *Env) Set(k, v string) *Env {
	if k != "" {
		e.vars[k] = v
	}
	return e
}

// SetKV parses "KEY=VALUE" entries and records them as overrides.
func (e *Env) SetKV(kvs []string) *Env {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.vars[kv[:i]] = kv[i+1:]
		}
	}
	return e
}

// Merge builds the final "K=V" slice in deterministic (sorted) order.
// Missing env files are an error; empty result means "inherit" for exec.
func (e *Env) Merge() ([]string, error) {
	m := make(map[string]string)
	if e.useOS {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, f := range e.files {
		pairs, err := readEnvFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	if len(m) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

func readEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if n := len(v); n >= 2 {
			if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
				v = v[1 : n-1]
			}
		}
		out[k] = v
	}
	return out, sc.Err()
}
