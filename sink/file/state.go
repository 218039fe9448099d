package file

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// offsetsState is the on-disk record of what has been appended so far. It is
// informational; consumption always resumes from the broker's committed
// offsets.
type offsetsState struct {
	Topic      string          `yaml:"topic"`
	Output     string          `yaml:"output"`
	Partitions map[int32]int64 `yaml:"partitions"`
	UpdatedAt  time.Time       `yaml:"updated_at"`
}

// statePath resolves the configured location; "" means next to the output.
func statePath(output, configured string) string {
	switch configured {
	case "-":
		return ""
	case "":
		return output + ".offsets.yaml"
	default:
		return configured
	}
}

func loadState(path string) (offsetsState, bool, error) {
	var st offsetsState
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return st, false, err
	}
	return st, true, nil
}

// saveState replaces path atomically via a temp file in the same directory.
func saveState(path string, st offsetsState) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
