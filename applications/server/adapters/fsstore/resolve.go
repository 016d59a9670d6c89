package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// upcountPattern matches an optional " (n)" counter followed by the extension at the end of a name.
var upcountPattern = regexp.MustCompile(`(?:(?: \((\d+)\))?(\.[^.]+))?$`)

// UpcountName turns "a.txt" into "a (1).txt" and "a (1).txt" into "a (2).txt".
func UpcountName(name string) string {
	m := upcountPattern.FindStringSubmatchIndex(name)
	if m == nil {
		return name + " (1)"
	}

	index := 1
	if m[2] >= 0 {
		n, err := strconv.Atoi(name[m[2]:m[3]])
		if err == nil {
			index = n + 1
		}
	}

	ext := ""
	if m[4] >= 0 {
		ext = name[m[4]:m[5]]
	}

	return name[:m[0]] + " (" + strconv.Itoa(index) + ")" + ext
}

// Resolve finds a name free of collisions. A file of the same name is kept when
// rng continues it, i.e. when the range starts exactly at the file's current size.
// The returned name is only a proposal: fresh names are claimed by Write.
func (s *storage) Resolve(ctx context.Context, ns, name string, rng *domain.ByteRange) (domain.Resolution, error) {
	if err := s.checkNamespace(ns); err != nil {
		return domain.Resolution{}, err
	}
	if !validName(name) {
		return domain.Resolution{}, fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}

	for {
		info, err := s.fs.Stat(s.Path(ns, name, ""))
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Resolution{Name: name}, nil
		}
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("can't stat %q: %w", name, err)
		}

		if !info.IsDir() && rng != nil && domain.FixSize(rng.Start) == domain.FixSize(info.Size()) {
			return domain.Resolution{Name: name, Continuation: true}, nil
		}

		name = UpcountName(name)
	}
}
