package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"media-viewer/internal/thumbnail"
)

func newThumbnailsCommand() *cobra.Command {
	var sizes []int
	var quality int

	cmd := &cobra.Command{
		Use:   "thumbnails",
		Short: "Pre-generate the persistent thumbnail mirror for every image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.thumbs.Dir() == "" {
				return errors.New("thumbnail mirror is disabled")
			}

			files, err := a.files.Files()
			if err != nil {
				return err
			}

			var renditions []thumbnail.Params
			for _, size := range sizes {
				params, err := thumbnail.ParseParams(url.Values{
					"size":    {strconv.Itoa(size)},
					"quality": {strconv.Itoa(quality)},
				})
				if err != nil {
					return err
				}
				renditions = append(renditions, params)
			}

			stats := warmThumbnails(cmd.Context(), a.thumbs, files, renditions, a.settings.ThumbnailWorkers, a.logger)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Images:    %d\n", stats.images)
			fmt.Fprintf(out, "Generated: %d\n", stats.generated.Load())
			fmt.Fprintf(out, "Cached:    %d\n", stats.cached.Load())
			fmt.Fprintf(out, "Failed:    %d\n", stats.failed.Load())
			fmt.Fprintf(out, "Size:      %s\n", humanize.Bytes(uint64(stats.bytes.Load())))
			if n := stats.failed.Load(); n > 0 {
				return fmt.Errorf("%d thumbnails failed", n)
			}
			return cmd.Context().Err()
		},
	}

	cmd.Flags().IntSliceVar(&sizes, "size", []int{thumbnail.DefaultSize}, "Thumbnail sizes to generate")
	cmd.Flags().IntVar(&quality, "quality", thumbnail.DefaultQuality, "WebP quality")
	return cmd
}

type warmStats struct {
	images    int
	generated atomic.Int64
	cached    atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

func warmThumbnails(ctx context.Context, gen *thumbnail.Generator, files []string, renditions []thumbnail.Params, workers int, logger *zap.Logger) *warmStats {
	if workers <= 0 {
		workers = 1
	}
	stats := &warmStats{}

	type job struct {
		rel    string
		params thumbnail.Params
	}
	jobs := make(chan job)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result, err := gen.Thumbnail(ctx, j.rel, j.params, true)
				if err != nil {
					stats.failed.Add(1)
					logger.Warn("thumbnail failed", zap.String("path", j.rel), zap.Int("size", j.params.Size), zap.Error(err))
					continue
				}
				if result.Source == thumbnail.FromGenerated {
					stats.generated.Add(1)
				} else {
					stats.cached.Add(1)
				}
				stats.bytes.Add(int64(len(result.Data)))
			}
		}()
	}

feed:
	for _, rel := range files {
		if !thumbnail.IsImage(rel) {
			continue
		}
		stats.images++
		for _, params := range renditions {
			select {
			case jobs <- job{rel: rel, params: params}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()
	return stats
}
