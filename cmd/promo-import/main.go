// Command promo-import loads promotions from gzip-compressed NDJSON files.
// Each line is one promotion document; the first occurrence of an ID wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/repository"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineBytes  = 1 << 20
)

// saver persists a promotion.
type saver interface {
	Save(ctx context.Context, p *promotion.Promotion) error
}

// stats summarizes an import run.
type stats struct {
	Saved      int
	Duplicates int
	Invalid    int
}

func main() {
	var (
		pattern     string
		databaseURL string
		workers     int
	)

	flag.StringVar(&pattern, "files", "data/promotions*.ndjson.gz", "glob of gzip NDJSON promotion files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent database writers")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		files, err := filepath.Glob(pattern)
		if err != nil {
			return errors.Wrap(err, "expand file pattern")
		}
		if len(files) == 0 {
			return errors.Errorf("no files match %q", pattern)
		}

		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}

		st, err := run(ctx, lg, files, repository.NewPromotionRepository(pool), workers)
		if err != nil {
			return errors.Wrap(err, "import promotions")
		}
		lg.Info("Promotion import completed",
			zap.Int("saved", st.Saved),
			zap.Int("duplicates", st.Duplicates),
			zap.Int("invalid", st.Invalid),
		)
		return nil
	})
}

func run(ctx context.Context, lg *zap.Logger, files []string, repo saver, workers int) (stats, error) {
	// Pass 1: one bloom filter of IDs per file, built concurrently. IDs that
	// may repeat become candidates for exact checking in pass 2.
	lg.Info("Pass 1: indexing promotion IDs", zap.Int("files", len(files)))
	filters, repeated, err := indexFiles(ctx, files)
	if err != nil {
		return stats{}, errors.Wrap(err, "index files")
	}

	// Pass 2: decode, validate and save. Files are read in order so the first
	// occurrence of an ID wins; writes run on a bounded worker pool.
	lg.Info("Pass 2: importing promotions")
	var (
		st   stats
		seen = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, path := range files {
		err := streamGzFile(gctx, path, func(line []byte) error {
			p, err := promotion.DecodeDocument(jx.DecodeBytes(line))
			if err != nil {
				st.Invalid++
				lg.Warn("Skipping undecodable promotion", zap.String("file", path), zap.Error(err))
				return nil
			}
			if mayRepeat(p.ID, i, filters, repeated[i]) {
				if _, dup := seen[p.ID]; dup {
					st.Duplicates++
					return nil
				}
				seen[p.ID] = struct{}{}
			}
			if err := promotion.Validate(p); err != nil {
				st.Invalid++
				lg.Warn("Skipping invalid promotion", zap.String("id", p.ID), zap.Error(err))
				return nil
			}

			st.Saved++
			if st.Saved%progressEvery == 0 {
				lg.Info("Import progress", zap.Int("saved", st.Saved))
			}
			g.Go(func() error {
				if err := repo.Save(gctx, p); err != nil {
					return errors.Wrapf(err, "save promotion %s", p.ID)
				}
				return nil
			})
			return nil
		})
		if err != nil {
			_ = g.Wait()
			return st, errors.Wrapf(err, "import %s", path)
		}
	}

	if err := g.Wait(); err != nil {
		return st, err
	}
	return st, nil
}

// indexFiles builds one ID filter per file and records IDs that may occur
// twice within the same file.
func indexFiles(ctx context.Context, files []string) ([]*bloom.BloomFilter, []map[string]struct{}, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	repeated := make([]map[string]struct{}, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			rep := make(map[string]struct{})
			err := streamGzFile(ctx, path, func(line []byte) error {
				id, err := documentID(line)
				if err != nil || id == "" {
					return nil
				}
				if filter.TestOrAddString(id) {
					rep[id] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "index file %d", i+1)
			}
			filters[i], repeated[i] = filter, rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return filters, repeated, nil
}

// mayRepeat reports whether id could also occur elsewhere: in another file's
// filter or flagged as repeating inside its own file.
func mayRepeat(id string, idx int, filters []*bloom.BloomFilter, own map[string]struct{}) bool {
	if _, ok := own[id]; ok {
		return true
	}
	for j, f := range filters {
		if j != idx && f.TestString(id) {
			return true
		}
	}
	return false
}

// documentID extracts the top-level "id" field without decoding the rest.
func documentID(line []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "id" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	})
	return id, err
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty
// line. The line slice is only valid during the call.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
