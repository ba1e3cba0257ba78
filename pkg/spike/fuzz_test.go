// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import (
	"bytes"
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

// randomPayload returns 0-600 bytes biased towards the low values the framer escapes
func randomPayload(rng *rand.Rand) []byte {
	data := make([]byte, rng.Intn(601))
	for i := range data {
		if rng.Intn(4) == 0 {
			data[i] = byte(rng.Intn(3))
		} else {
			data[i] = byte(rng.Intn(256))
		}
	}
	return data
}

// ============================================================
// Framer Fuzz Tests
// ============================================================

func TestFuzz_PackUnpack(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		payload := randomPayload(rng)
		frame := Pack(payload)

		if bytes.IndexByte(frame[:len(frame)-1], Delimiter) >= 0 {
			t.Fatalf("round %d: delimiter inside frame body", i)
		}
		got, err := Unpack(frame)
		if err != nil {
			t.Fatalf("round %d: Unpack failed: %v (payload % X)", i, err, payload)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round %d: round trip mismatch (payload % X)", i, payload)
		}
	}
}

func TestFuzz_UnpackGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		frame := make([]byte, rng.Intn(64))
		rng.Read(frame)
		frame = append(frame, Delimiter)

		// Must not panic; any error is acceptable
		if payload, err := Unpack(frame); err == nil {
			_, _ = Decode(payload)
		}
	}
}

func TestFuzz_AssemblerSplits(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10

	for i := 0; i < rounds; i++ {
		var stream []byte
		var payloads [][]byte
		for n := rng.Intn(5) + 1; n > 0; n-- {
			p := randomPayload(rng)
			payloads = append(payloads, p)
			stream = append(stream, Pack(p)...)
		}

		a := NewAssembler()
		var frames [][]byte
		for len(stream) > 0 {
			n := rng.Intn(40) + 1
			if n > len(stream) {
				n = len(stream)
			}
			frames = append(frames, a.Feed(stream[:n])...)
			stream = stream[n:]
		}

		if len(frames) != len(payloads) {
			t.Fatalf("round %d: got %d frames, want %d", i, len(frames), len(payloads))
		}
		for j, f := range frames {
			got, err := Unpack(f)
			if err != nil || !bytes.Equal(got, payloads[j]) {
				t.Fatalf("round %d frame %d: mismatch (err %v)", i, j, err)
			}
		}
	}
}

// ============================================================
// Device Record Fuzz Tests
// ============================================================

func TestFuzz_DeviceMessagesGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(80))
		rng.Read(payload)

		msgs, _ := DecodeDeviceMessages(payload)
		state := ProjectPortState(msgs)
		for _, p := range state.Attached() {
			if !p.Valid() {
				t.Fatalf("round %d: invalid port %d attached", i, p)
			}
		}
	}
}
