package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// pidMeta is the optional second line of a pidfile. The recorded start time
// guards against PID reuse after the backend dies.
type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile records the backend pid plus its start time so a later reader
// can tell a reused PID from the original process.
func WritePIDFile(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, _ := json.Marshal(pidMeta{StartUnix: procStartUnix(pid)})
	content := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

// RemovePIDFile is best-effort.
func RemovePIDFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// PIDFileDetector detects the backend via its pidfile.
type PIDFileDetector struct{ Path string }

func (d PIDFileDetector) Alive() (bool, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(lines[0])
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, fmt.Errorf("invalid pid in %s: %w", d.Path, err)
	}
	if len(lines) >= 2 && strings.TrimSpace(lines[1]) != "" {
		var m pidMeta
		if err := json.Unmarshal([]byte(lines[1]), &m); err == nil && m.StartUnix > 0 {
			if cur := procStartUnix(pid); cur > 0 && cur != m.StartUnix {
				// PID reused by an unrelated process
				return false, nil
			}
		}
	}
	return pidAlive(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.Path }
