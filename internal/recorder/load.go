package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// Recording is the stored capture of one call.
type Recording struct {
	CallID   string
	Inbound  []audio.Frame
	Outbound []audio.Frame
	Segments []SegmentMark
	// Torn counts logs that ended in a partial record.
	Torn int
}

// Load reads the logs of callID under root. Missing logs are empty; a torn
// trailing record is dropped.
func Load(root, callID string) (Recording, error) {
	dir := CallDir(root, callID)
	rec := Recording{CallID: callID}
	var torn bool
	var err error
	if rec.Inbound, torn, err = readLog[audio.Frame](filepath.Join(dir, InboundLog)); err != nil {
		return rec, err
	}
	rec.Torn += b2i(torn)
	if rec.Outbound, torn, err = readLog[audio.Frame](filepath.Join(dir, OutboundLog)); err != nil {
		return rec, err
	}
	rec.Torn += b2i(torn)
	if rec.Segments, torn, err = readLog[SegmentMark](filepath.Join(dir, SegmentLog)); err != nil {
		return rec, err
	}
	rec.Torn += b2i(torn)
	return rec, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func readLog[T any](path string) ([]T, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("recorder: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	dec := msgpack.NewDecoder(br)
	var out []T
	for {
		if _, err := br.Peek(1); err == io.EOF {
			return out, false, nil
		}
		var v T
		if err := dec.Decode(&v); err != nil {
			// anything after the last complete record is a torn write
			return out, true, nil
		}
		out = append(out, v)
	}
}
