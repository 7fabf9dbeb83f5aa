package decoder

import (
	"strings"
	"testing"
)

func TestArgsCrop(t *testing.T) {
	opts := Options{Input: "movie.mp4", Width: 128, Height: 64, FPS: 15, Mode: "crop"}
	args, err := opts.Args()
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(args, " ")
	wantVF := "scale=128:64:force_original_aspect_ratio=increase:flags=lanczos,crop=128:64,format=gray,fps=15"
	if !strings.Contains(joined, wantVF) {
		t.Errorf("args missing crop filter chain:\n got %q\nwant substring %q", joined, wantVF)
	}
	for _, want := range []string{"-an", "-f rawvideo", "-pix_fmt gray", "-i movie.mp4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %q", want, joined)
		}
	}
	if strings.Contains(joined, "-ss") {
		t.Error("seek argument present without a seek")
	}
	if args[len(args)-1] != "-" {
		t.Error("output must be stdout")
	}
}

func TestArgsFitWithSeekAndFlags(t *testing.T) {
	opts := Options{
		Input: "movie.mp4", Width: 128, Height: 64, FPS: 10,
		Mode: "fit", ScaleFlags: "bicubic", Seek: 90.5,
	}
	args, err := opts.Args()
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(args, " ")
	wantVF := "scale=128:64:force_original_aspect_ratio=decrease:flags=bicubic,pad=128:64:(ow-iw)/2:(oh-ih)/2,format=gray,fps=10"
	if !strings.Contains(joined, wantVF) {
		t.Errorf("args missing fit filter chain:\n got %q\nwant substring %q", joined, wantVF)
	}
	if !strings.Contains(joined, "-ss 90.5") {
		t.Errorf("args missing seek: %q", joined)
	}
}

func TestArgsRejectsUnknownMode(t *testing.T) {
	opts := Options{Input: "movie.mp4", Width: 128, Height: 64, FPS: 10, Mode: "stretch"}
	if _, err := opts.Args(); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestArgsDefaultModeIsCrop(t *testing.T) {
	opts := Options{Input: "movie.mp4", Width: 128, Height: 64, FPS: 10}
	args, err := opts.Args()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(args, " "), "crop=128:64") {
		t.Error("default mode is not crop")
	}
}
