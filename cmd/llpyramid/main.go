// Command llpyramid builds a gray image pyramid of an image file and writes
// every level as PNG.
//
// Usage:
//
//	llpyramid -input photo.jpg -levels 4 -output out/
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gogpu/nodegraph"
	_ "github.com/gogpu/nodegraph/driver/wgpu"
	"github.com/gogpu/nodegraph/nodes/imgproc"
)

func main() {
	var (
		input      = flag.String("input", "", "input image (PNG, JPEG, BMP, TIFF or WebP)")
		output     = flag.String("output", ".", "output directory")
		levels     = flag.Int("levels", 4, "number of pyramid levels")
		maxWidth   = flag.Int("max-width", 0, "scale the input down to at most this width (0 keeps it)")
		driverName = flag.String("driver", "", "driver name (default: best available)")
		debug      = flag.Bool("debug", false, "enable the validation layer")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		nodegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	src, err := loadImage(*input, *maxWidth)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *input, err)
	}

	opts := []nodegraph.Option{nodegraph.WithDebug(*debug)}
	if *driverName != "" {
		opts = append(opts, nodegraph.WithDriver(*driverName))
	}
	s, err := nodegraph.NewSession(opts...)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer s.Close()

	grays, elapsed, err := buildPyramid(context.Background(), s, src, *levels)
	if err != nil {
		log.Fatalf("Pyramid failed: %v", err)
	}

	if err := os.MkdirAll(*output, 0o755); err != nil {
		log.Fatal(err)
	}
	for i, g := range grays {
		path := filepath.Join(*output, fmt.Sprintf("level_%d.png", i))
		if err := savePNG(path, g); err != nil {
			log.Fatalf("Failed to save: %v", err)
		}
		log.Printf("Level %d saved to %s (%dx%d)\n", i, path, g.Rect.Dx(), g.Rect.Dy())
	}
	log.Printf("Device %s, GPU time %v\n", s.Info().Name, elapsed)
	if s.HasReceivedWarningMessages() {
		log.Printf("Validation warnings were reported")
	}
}

// loadImage decodes path into an RGBA image at the origin, scaled down to
// maxWidth when it is wider.
func loadImage(path string, maxWidth int) (*image.RGBA, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	return dst, nil
}

// buildPyramid converts src to gray on the device and runs the pyramid
// container on it.
func buildPyramid(ctx context.Context, s *nodegraph.Session, src *image.RGBA, levels int) ([]*image.Gray, *nodegraph.Duration, error) {
	mem, err := s.CreateMemory(nodegraph.MemoryDeviceLocal, 0)
	if err != nil {
		return nil, nil, err
	}
	w, h := uint32(src.Rect.Dx()), uint32(src.Rect.Dy())
	in, err := mem.CreateImage(nodegraph.NewImageDescriptor(1, h, w, 4, nodegraph.ChannelUint8), nodegraph.ImageUsageAll)
	if err != nil {
		return nil, nil, err
	}
	if err := in.FromHost(ctx, src.Pix); err != nil {
		return nil, nil, err
	}
	view, err := in.DefaultView()
	if err != nil {
		return nil, nil, err
	}

	gray, err := s.CreateComputeNode(imgproc.RGBA2Gray)
	if err != nil {
		return nil, nil, err
	}
	if err := gray.Bind("in_rgba", view); err != nil {
		return nil, nil, err
	}
	if err := gray.Init(); err != nil {
		return nil, nil, err
	}
	grayOut, err := gray.Port("out_gray")
	if err != nil {
		return nil, nil, err
	}

	pyramid, err := s.CreateContainerNode(imgproc.Pyramid)
	if err != nil {
		return nil, nil, err
	}
	if err := pyramid.SetParameter("levels", nodegraph.IntParameter(int64(levels))); err != nil {
		return nil, nil, err
	}
	if err := pyramid.Bind("in_gray", grayOut.Resource()); err != nil {
		return nil, nil, err
	}
	if err := pyramid.Init(); err != nil {
		return nil, nil, err
	}

	elapsed, err := s.CreateDuration()
	if err != nil {
		return nil, nil, err
	}
	cb, err := s.CreateCommandBuffer()
	if err != nil {
		return nil, nil, err
	}
	err = record(cb,
		func() error { return cb.DurationStart(elapsed) },
		func() error { return cb.Run(gray) },
		cb.MemoryBarrier,
		func() error { return cb.Run(pyramid) },
		func() error { return cb.DurationEnd(elapsed) },
	)
	if err != nil {
		return nil, nil, err
	}
	if err := s.RunCommandBuffer(ctx, cb); err != nil {
		return nil, nil, err
	}

	out := make([]*image.Gray, 0, levels)
	for i := range levels {
		p, err := pyramid.Port(fmt.Sprintf("out_gray_%d", i))
		if err != nil {
			return nil, nil, err
		}
		img := p.Image()
		pix, err := img.ToHost(ctx)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, &image.Gray{
			Pix:    pix,
			Stride: int(img.Width()),
			Rect:   image.Rect(0, 0, int(img.Width()), int(img.Height())),
		})
	}
	return out, elapsed, nil
}

func record(cb *nodegraph.CommandBuffer, steps ...func() error) error {
	if err := cb.Begin(); err != nil {
		return err
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return cb.End()
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
