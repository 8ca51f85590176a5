// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomNoise returns bytes that never contain START
func randomNoise(rng *rand.Rand, n int) []byte {
	noise := make([]byte, n)
	for i := range noise {
		b := byte(rng.Intn(256))
		if b == StartByte {
			b = 0x00
		}
		noise[i] = b
	}
	return noise
}

// TestFuzzParser_RandomBytes feeds random bytes to the parser
// and verifies it doesn't panic or emit frames from nowhere
func TestFuzzParser_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		p := NewParser()
		data := make([]byte, rng.Intn(512)+1)
		rng.Read(data)

		frames := p.Feed(data)
		c := p.Counters()
		if uint64(len(frames)) != c.Frames {
			t.Fatalf("round %d: %d frames emitted, counter says %d", i, len(frames), c.Frames)
		}
	}
}

// TestFuzzParser_RoundTrip encodes random frames separated by noise and
// verifies every one is recovered in order
func TestFuzzParser_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		p := NewParser()
		count := rng.Intn(5) + 1
		var stream []byte
		var want []*Frame

		for j := 0; j < count; j++ {
			payload := make([]byte, rng.Intn(MaxPayloadSize+1))
			rng.Read(payload)
			f := NewFrame(FrameType(rng.Intn(256)), uint8(rng.Intn(256)), payload)
			want = append(want, f)

			stream = append(stream, randomNoise(rng, rng.Intn(16))...)
			stream = append(stream, MustEncodeFrame(f)...)
		}

		got := p.Feed(stream)
		if len(got) != len(want) {
			t.Fatalf("round %d: got %d frames, want %d", i, len(got), len(want))
		}
		for j := range want {
			if !got[j].Equal(want[j]) {
				t.Fatalf("round %d: frame %d differs", i, j)
			}
		}
		if c := p.Counters(); c.Errors() != 0 {
			t.Fatalf("round %d: counters %+v", i, c)
		}
	}
}

// TestFuzzParser_NoiseEndingInStart verifies that noise whose last byte is
// START does not swallow the frame that follows
func TestFuzzParser_NoiseEndingInStart(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(MaxPayloadSize+1))
		rng.Read(payload)
		want := NewFrame(FrameType(rng.Intn(256)), uint8(rng.Intn(256)), payload)

		stream := randomNoise(rng, rng.Intn(16))
		for n := rng.Intn(3) + 1; n > 0; n-- {
			stream = append(stream, StartByte)
		}
		stream = append(stream, MustEncodeFrame(want)...)

		p := NewParser()
		got := p.Feed(stream)
		if len(got) != 1 || !got[0].Equal(want) {
			t.Fatalf("round %d: got %d frames, want the encoded one", i, len(got))
		}
		if c := p.Counters(); c.Errors() != 0 {
			t.Fatalf("round %d: counters %+v", i, c)
		}
	}
}

// TestFuzzParser_CorruptedFrame flips one byte of the checked region and
// verifies the frame is rejected with a single CRC error
func TestFuzzParser_CorruptedFrame(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(MaxPayloadSize)+1)
		rng.Read(payload)
		data := MustEncodeFrame(NewFrame(TypeTelemetry, uint8(rng.Intn(256)), payload))

		// Corrupt a payload byte or the CRC byte
		pos := 1 + HeaderSize + rng.Intn(len(payload)+1)
		data[pos] ^= byte(rng.Intn(255) + 1)

		p := NewParser()
		if frames := p.Feed(data); len(frames) != 0 {
			t.Fatalf("round %d: corrupted frame emitted", i)
		}
		if c := p.Counters(); c.CRC != 1 || c.Framing != 0 || c.Length != 0 {
			t.Fatalf("round %d: counters %+v", i, c)
		}
	}
}

// TestFuzzFieldBlock_RoundTrip encodes random values under random masks
func TestFuzzFieldBlock_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		n := rng.Intn(MaxFields) + 1
		names := make([]string, n)
		values := make(map[string]float64, n)
		for j := range names {
			names[j] = "f" + strconv.Itoa(j)
			values[names[j]] = float64(float32(rng.NormFloat64() * 1000))
		}
		mask := FieldMask(rng.Uint32())
		if n < MaxFields {
			mask &= FieldMask(1)<<uint(n) - 1
		}

		payload, err := EncodeTelemetry(names, mask, values)
		if err != nil {
			t.Fatalf("round %d: encode failed: %v", i, err)
		}
		gotMask, got, err := DecodeTelemetry(names, payload)
		if err != nil {
			t.Fatalf("round %d: decode failed: %v", i, err)
		}
		if gotMask != mask || len(got) != mask.Count() {
			t.Fatalf("round %d: mask %08X decoded as %08X with %d values", i, mask, gotMask, len(got))
		}
		for name, v := range got {
			if v != values[name] {
				t.Fatalf("round %d: %s = %v, want %v", i, name, v, values[name])
			}
		}
	}
}
