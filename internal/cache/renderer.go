package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	DefaultRenderBinary = "create-static-map"
	DefaultCropBinary   = "convert"
	DefaultZoom         = 16

	renderSize = 256
	cropSize   = 128
)

// RenderError reports a failed stage of the external render pipeline.
type RenderError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s stage failed: %v: %s", e.Stage, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// StaticMapRenderer draws a map around the coordinate with create-static-map
// and pipes it through ImageMagick to crop the center square.
type StaticMapRenderer struct {
	RenderBinary string
	CropBinary   string
	Zoom         int
}

func NewStaticMapRenderer(renderBinary, cropBinary string, zoom int) *StaticMapRenderer {
	if renderBinary == "" {
		renderBinary = DefaultRenderBinary
	}
	if cropBinary == "" {
		cropBinary = DefaultCropBinary
	}
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	return &StaticMapRenderer{
		RenderBinary: renderBinary,
		CropBinary:   cropBinary,
		Zoom:         zoom,
	}
}

// Check verifies both tools are installed and that the renderer supports
// an empty attribution.
func (r *StaticMapRenderer) Check(ctx context.Context) error {
	// create-static-map prints its usage on stderr and may exit non-zero.
	out, err := exec.CommandContext(ctx, r.RenderBinary, "--help").CombinedOutput()
	if err != nil && len(out) == 0 {
		return fmt.Errorf("%s not installed: %w", r.RenderBinary, err)
	}
	if !strings.Contains(string(out), "--attribution") {
		return fmt.Errorf("%s doesn't support --attribution", r.RenderBinary)
	}

	if out, err := exec.CommandContext(ctx, r.CropBinary, "--version").CombinedOutput(); err != nil {
		return fmt.Errorf("%s not usable: %w: %s", r.CropBinary, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *StaticMapRenderer) Render(ctx context.Context, lat, lon float64, dest string) error {
	size := strconv.Itoa(renderSize)
	render := exec.CommandContext(ctx, r.RenderBinary,
		"-m", Key(lat, lon),
		"-z", strconv.Itoa(r.Zoom),
		"--width", size,
		"--height", size,
		"--attribution", "",
		"--output", "/dev/stdout",
	)
	crop := exec.CommandContext(ctx, r.CropBinary,
		"png:-",
		"-gravity", "center",
		"-crop", fmt.Sprintf("%dx%d+0+0", cropSize, cropSize),
		"+repage",
		dest,
	)

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating pipe: %w", err)
	}

	var renderStderr, cropStderr bytes.Buffer
	render.Stdout = pw
	render.Stderr = &renderStderr
	crop.Stdin = pr
	crop.Stderr = &cropStderr

	if err := render.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return &RenderError{Stage: "render", Err: err}
	}
	if err := crop.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		_ = render.Process.Kill()
		_ = render.Wait()
		return &RenderError{Stage: "crop", Err: err}
	}

	// The children hold their own copies; closing ours lets each side see
	// EOF or EPIPE when the other exits.
	_ = pr.Close()
	_ = pw.Close()

	cropErr := crop.Wait()
	renderErr := render.Wait()

	renderOut := strings.TrimSpace(renderStderr.String())
	cropOut := strings.TrimSpace(cropStderr.String())

	switch {
	case renderErr == nil && cropErr == nil:
		return nil
	case cropErr == nil:
		return &RenderError{Stage: "render", Stderr: renderOut, Err: renderErr}
	case renderErr == nil:
		return &RenderError{Stage: "crop", Stderr: cropOut, Err: cropErr}
	case renderOut != "":
		// Crop choked on whatever the failed renderer left in the pipe.
		return &RenderError{Stage: "render", Stderr: renderOut, Err: renderErr}
	default:
		// A silent renderer failure is a broken pipe after crop exited.
		return &RenderError{Stage: "crop", Stderr: cropOut, Err: cropErr}
	}
}
