// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// gen-testdata generates fixed-length key/value pairs for exercising table
// builds.  By default it prints key:value lines; with -out it builds a
// dictionary artifact directly.
package main

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"

	"github.com/bpowers/ssht"
)

const (
	prefix    = "pref_"
	suffixLen = 16
	hmacKey   = "d259c7f656caf7f1"
)

var (
	nPairs  = flag.Int("pairs", 1000000, "number of key/value pairs to generate")
	outPath = flag.String("out", "", "build an artifact at this path instead of printing pairs")
)

func newRand() *rand.Rand {
	var seedBytes [8]byte
	_, _ = crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed))
}

// pairReader generates records on the fly; every key is a fixed-length
// digest of its value, so keys are unique with overwhelming probability.
type pairReader struct {
	rng   *rand.Rand
	seed  int64
	total uint64
	pos   uint64
	key   [sha256.Size]byte
	value []byte
}

func newPairReader(total uint64) *pairReader {
	var seedBytes [8]byte
	_, _ = crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	r := &pairReader{seed: seed, total: total}
	r.Reset()
	return r
}

func (r *pairReader) Reset() {
	r.rng = rand.New(rand.NewSource(r.seed))
	r.pos = 0
}

func (r *pairReader) Total() uint64 { return r.total }

func (r *pairReader) Read(keyOnly bool) ssht.Record {
	if r.pos >= r.total {
		return ssht.Record{}
	}
	r.pos++

	var buf [suffixLen / 2]byte
	if _, err := r.rng.Read(buf[:]); err != nil {
		return ssht.Record{}
	}
	r.value = []byte(fmt.Sprintf("%s%x", prefix, buf))
	h := hmac.New(sha256.New, []byte(hmacKey))
	h.Write(r.value)
	copy(r.key[:], h.Sum(nil))

	return ssht.Record{Key: r.key[:], Val: r.value}
}

func main() {
	flag.Parse()

	if *outPath == "" {
		rng := newRand()
		h := hmac.New(sha256.New, []byte(hmacKey))
		for i := 0; i < *nPairs; i++ {
			var buf [suffixLen / 2]byte
			if _, err := rng.Read(buf[:]); err != nil {
				log.Fatal(err)
			}
			value := fmt.Sprintf("%s%x", prefix, buf)
			h.Reset()
			h.Write([]byte(value))
			fmt.Printf("%x:%s\n", h.Sum(nil), value)
		}
		return
	}

	w, err := ssht.NewFileWriter(*outPath)
	if err != nil {
		log.Fatal(err)
	}
	in := []ssht.DataReader{newPairReader(uint64(*nPairs))}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if st := ssht.BuildDict(in, w, ssht.WithLogger(logger)); st != ssht.StatusOK {
		log.Fatalf("build failed: %s", st)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}
}
