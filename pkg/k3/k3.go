// Package k3 recovers the third DES key of an MS-CHAPv2 NT-Response.
//
// The third key is built from the last two bytes of the NT hash followed by five
// zero bytes, so only 65,536 candidates exist.
package k3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chapcrack-go/pkg/mschap"
)

// ErrNotFound is returned when no candidate encrypts the plaintext to the ciphertext.
var ErrNotFound = errors.New("k3 not found in keyspace")

// Keyspace is the number of K3 candidates.
const Keyspace = 256 * 256

// ProgressFunc receives the number of candidates tried so far.
type ProgressFunc func(done, total int)

// Cracker searches the K3 keyspace with a pool of workers.
type Cracker struct {
	workers  int
	logger   zerolog.Logger
	progress ProgressFunc
}

// New returns a cracker. workers <= 0 uses one worker per CPU.
func New(workers int, logger zerolog.Logger) *Cracker {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	c := &Cracker{
		workers: workers,
		logger:  logger.With().Str("component", "k3").Logger(),
	}
	c.progress = c.logProgress()
	return c
}

// SetProgress replaces the progress hook. A nil hook disables reporting.
func (c *Cracker) SetProgress(fn ProgressFunc) {
	c.progress = fn
}

func (c *Cracker) logProgress() ProgressFunc {
	sometimes := rate.Sometimes{Interval: time.Second}
	return func(done, total int) {
		sometimes.Do(func() {
			c.logger.Info().Int("done", done).Int("total", total).
				Msgf("Cracking K3: %.0f%%", float64(done)*100/float64(total))
		})
	}
}

// Crack returns the 7-byte key {b1, b2, 0, 0, 0, 0, 0} that DES encrypts plaintext to
// ciphertext. Work is split by first byte and stops as soon as one worker matches.
func (c *Cracker) Crack(ctx context.Context, plaintext, ciphertext []byte) ([]byte, error) {
	if len(plaintext) != mschap.ChallengeSize || len(ciphertext) != mschap.ChallengeSize {
		return nil, fmt.Errorf("plaintext and ciphertext must be %d bytes", mschap.ChallengeSize)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	searchCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	var (
		once  sync.Once
		found []byte
		done  atomic.Int64
	)

	work := make(chan byte)
	g.Go(func() error {
		defer close(work)
		for b1 := 0; b1 < 256; b1++ {
			select {
			case work <- byte(b1):
			case <-searchCtx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for b1 := range work {
				if key, ok := searchFirstByte(searchCtx, b1, plaintext, ciphertext); ok {
					once.Do(func() {
						found = key
						cancel()
					})
					return nil
				}
				if searchCtx.Err() != nil {
					return nil
				}
				n := done.Add(256)
				if c.progress != nil {
					c.progress(int(n), Keyspace)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if found != nil {
		c.logger.Debug().Dur("elapsed", time.Since(start)).Hex("k3", found).Msg("K3 found")
		return found, nil
	}
	// Cancelled by the caller rather than by a match.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func searchFirstByte(ctx context.Context, b1 byte, plaintext, ciphertext []byte) ([]byte, bool) {
	key := make([]byte, mschap.DESKeySize)
	key[0] = b1
	for b2 := 0; b2 < 256; b2++ {
		if b2%64 == 0 && ctx.Err() != nil {
			return nil, false
		}
		key[1] = byte(b2)
		if bytes.Equal(mschap.DESEncrypt(key, plaintext), ciphertext) {
			return key, true
		}
	}
	return nil, false
}
