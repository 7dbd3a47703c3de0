package main

import (
	"context"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"k8s.io/klog/v2"
	"os"
	"runtime"
)

// decodeImages reads and decodes the image files in parallel, and resizes them to the given geometry.
func decodeImages(ctx context.Context, paths []string, height, width, channels int) ([]*landmarks.Image, error) {
	images := make([]*landmarks.Image, len(paths))
	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(runtime.NumCPU())
	for ii, path := range paths {
		wg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			var err error
			images[ii], err = decodeImage(path, height, width, channels)
			return err
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func decodeImage(path string, height, width, channels int) (*landmarks.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image")
	}
	defer func() { _ = f.Close() }()
	src, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	klog.V(2).Infof("Decoded %s image %q of size %s", format, path, src.Bounds().Size())
	img, err := landmarks.FromGoImage(src, height, width, channels)
	if err != nil {
		return nil, errors.WithMessagef(err, "image %q", path)
	}
	return img, nil
}
