package imageproc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/donmikel/fileupload/applications/server/domain"
)

// converter runs the ImageMagick convert and identify binaries. It works on
// real paths, so fs must be backed by the operating system.
type converter struct {
	fs          afero.Fs
	convertBin  string
	identifyBin string
	params      []string
	timeout     time.Duration
	log         log.Logger
}

// NewConvertBackend resolves both binaries up front so a missing ImageMagick fails at startup.
func NewConvertBackend(fsys afero.Fs, convertBin, identifyBin, params string, timeout time.Duration, logger log.Logger) (Backend, error) {
	convertPath, err := exec.LookPath(convertBin)
	if err != nil {
		return nil, fmt.Errorf("can't find convert binary %q: %w", convertBin, err)
	}
	identifyPath, err := exec.LookPath(identifyBin)
	if err != nil {
		return nil, fmt.Errorf("can't find identify binary %q: %w", identifyBin, err)
	}

	return &converter{
		fs:          fsys,
		convertBin:  convertPath,
		identifyBin: identifyPath,
		params:      strings.Fields(params),
		timeout:     timeout,
		log:         logger,
	}, nil
}

func (c *converter) Name() string {
	return "convert"
}

func (c *converter) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		level.Error(c.log).Log("msg", "image command failed",
			"bin", bin,
			"args", strings.Join(args, " "),
			"stderr", stderr.String(),
			"err", err,
		)
		return nil, fmt.Errorf("%s failed: %w", filepath.Base(bin), err)
	}

	return stdout.Bytes(), nil
}

// magickOrientations maps the orientation names identify prints to EXIF tags.
var magickOrientations = map[string]int{
	"TopLeft":     1,
	"TopRight":    2,
	"BottomRight": 3,
	"BottomLeft":  4,
	"LeftTop":     5,
	"RightTop":    6,
	"RightBottom": 7,
	"LeftBottom":  8,
}

// identify reads the size and orientation of the first frame. Orientation is 0 when undefined.
func (c *converter) identify(ctx context.Context, path string) (w, h, orientation int, err error) {
	out, err := c.run(ctx, c.identifyBin, "-ping", "-format", `%w %h %[orientation]\n`, path)
	if err != nil {
		return 0, 0, 0, err
	}

	line, _, _ := bufio.NewReader(bytes.NewReader(out)).ReadLine()
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0, 0, 0, fmt.Errorf("can't parse identify output %q", line)
	}
	if w, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("can't parse identify width %q: %w", fields[0], err)
	}
	if h, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, 0, fmt.Errorf("can't parse identify height %q: %w", fields[1], err)
	}
	if len(fields) > 2 {
		orientation = magickOrientations[fields[2]]
	}

	return w, h, orientation, nil
}

// Ping asks identify for the size of the first frame.
func (c *converter) Ping(ctx context.Context, path string) (int, int, error) {
	w, h, _, err := c.identify(ctx, path)
	return w, h, err
}

// geometry renders the resize box as WxH, W or xH; empty when unbounded.
func geometry(v domain.Version) string {
	var g string
	if v.MaxWidth > 0 {
		g = strconv.Itoa(v.MaxWidth)
	}
	if v.MaxHeight > 0 {
		g += "x" + strconv.Itoa(v.MaxHeight)
	}
	return g
}

// args builds the convert command line. The resize box is applied only when resize is set.
func (c *converter) args(src, dst string, v domain.Version, resize bool) []string {
	args := append([]string{}, c.params...)
	args = append(args, src)

	if v.AutoOrient {
		args = append(args, "-auto-orient")
	}

	if g := geometry(v); resize && g != "" {
		args = append(args, "-coalesce")
		if v.Crop {
			args = append(args, "-resize", g+"^", "-gravity", "center", "-crop", g+"+0+0")
		} else {
			args = append(args, "-resize", g+">")
		}
		args = append(args, "+repage")
	}

	if v.JPEGQuality > 0 {
		args = append(args, "-quality", strconv.Itoa(v.JPEGQuality))
	}
	if v.Strip {
		args = append(args, "-strip")
	}
	args = append(args, strings.Fields(v.ConvertParams)...)

	return append(args, dst)
}

func (c *converter) Scale(ctx context.Context, src, dst string, v domain.Version) error {
	w, h, orientation, err := c.identify(ctx, src)
	if err != nil {
		return err
	}

	reorient := v.AutoOrient && orientation >= 2
	if reorient && swapsAxes(orientation) {
		w, h = h, w
	}
	fits := (v.MaxWidth <= 0 || w <= v.MaxWidth) && (v.MaxHeight <= 0 || h <= v.MaxHeight)

	if fits && !reorient {
		if src != dst {
			return copyFile(c.fs, src, dst)
		}
		return nil
	}

	// convert picks the output codec from the extension, so the temp file keeps it.
	tmp, err := afero.TempFile(c.fs, filepath.Dir(dst), ".convert-*"+filepath.Ext(dst))
	if err != nil {
		return fmt.Errorf("can't create temp file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if _, err = c.run(ctx, c.convertBin, c.args(src, tmpName, v, !fits)...); err != nil {
		c.fs.Remove(tmpName)
		return err
	}

	if err = c.fs.Rename(tmpName, dst); err != nil {
		c.fs.Remove(tmpName)
		return fmt.Errorf("can't move derivative into place: %w", err)
	}

	return nil
}
