package input

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/luhtaf/blobseen/internal/log"
)

type manifestLine struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Manifest reads a JSON-lines file of {"path": ..., "name": ...} objects.
type Manifest struct {
	path string
	out  chan FileEvent
}

// NewManifest constructs a Manifest reader for path.
func NewManifest(path string) *Manifest {
	return &Manifest{path: path, out: make(chan FileEvent, 1024)}
}

// Events returns the consumer channel.
func (m *Manifest) Events() <-chan FileEvent { return m.out }

// Start opens the manifest and streams it in the background.
func (m *Manifest) Start(ctx context.Context) error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	go func() {
		defer close(m.out)
		defer f.Close()
		lineNo := 0
		for s.Scan() {
			lineNo++
			line := strings.TrimSpace(s.Text())
			if line == "" {
				continue
			}
			fe, ok := parseLine(line)
			if !ok {
				log.L.Warnw("manifest_bad_line", "event", "manifest_bad_line", "file", m.path, "line", lineNo)
				continue
			}
			if !emit(ctx, m.out, fe) {
				return
			}
		}
		if err := s.Err(); err != nil {
			log.L.Warnw("manifest scanner", "file", m.path, "err", err)
		}
	}()
	return nil
}

func parseLine(line string) (FileEvent, bool) {
	var ml manifestLine
	if err := json.Unmarshal([]byte(line), &ml); err != nil {
		return FileEvent{}, false
	}
	if ml.Path == "" {
		return FileEvent{}, false
	}
	name := ml.Name
	if name == "" {
		name = ml.Path
	}
	return FileEvent{Path: ml.Path, Name: name}, true
}
