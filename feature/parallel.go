// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// logEvery is the pair interval of progress log lines when stderr is not a
// terminal.
const logEvery = 50000

// encodePairs encodes pairs in chunks. Up to Workers chunks are encoded
// concurrently into their own buffers; each finished wave is appended to
// the matrix files in chunk order, so the result does not depend on the
// number of workers.
func (b *Builder) encodePairs(ctx context.Context, pairs []Pair) (*Matrix, error) {
	w, err := newMatrixWriter(b.opts.TempDir)
	if err != nil {
		return nil, err
	}

	size := b.opts.ChunkSize
	chunks := (len(pairs) + size - 1) / size

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(len(pairs),
			progressbar.OptionSetDescription("Encoding pairs"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	done := 0

	for wave := 0; wave < chunks; wave += b.opts.Workers {
		bufs := make([]*rowBuffer, min(b.opts.Workers, chunks-wave))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.opts.Workers)

		for i := range bufs {
			lo := (wave + i) * size
			hi := min(lo+size, len(pairs))

			g.Go(func() error {
				buf := &rowBuffer{}

				for k, p := range pairs[lo:hi] {
					if k%1024 == 0 {
						if err := gctx.Err(); err != nil {
							return err
						}
					}

					b.enc.encode(buf, &b.recs[p.A], &b.recs[p.B], p.Match)
				}

				bufs[i] = buf

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			w.abort()

			return nil, eris.Wrap(err, "feature: encoding pairs")
		}

		for _, buf := range bufs {
			if err := w.write(buf); err != nil {
				w.abort()

				return nil, err
			}

			if bar != nil {
				_ = bar.Add(buf.rows())
			} else if (done+buf.rows())/logEvery > done/logEvery {
				b.log.Info("encoding", zap.Int("pair", done+buf.rows()), zap.Int("total", len(pairs)))
			}

			done += buf.rows()
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return w.finish(b.NumCols())
}
