package codec

import (
	"errors"
	"math"
	"testing"

	"vitalguard/internal/model"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := New(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestECGRoundTrip(t *testing.T) {
	c := testCodec(t)
	in := model.SensorFrame{Kind: model.FrameECG, HeartRate: 72, ArrhythmiaFlag: true}
	in.Samples = make([]float64, 500)
	for i := range in.Samples {
		in.Samples[i] = math.Sin(float64(i)/10.0) * 1.5
	}
	raw, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(raw, model.FrameECG)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.HeartRate != 72 || !out.ArrhythmiaFlag {
		t.Fatalf("scalar fields lost: hr=%d flag=%v", out.HeartRate, out.ArrhythmiaFlag)
	}
	if len(out.Samples) != 500 {
		t.Fatalf("expected 500 samples, got %d", len(out.Samples))
	}
	for i := range in.Samples {
		if math.Abs(out.Samples[i]-in.Samples[i]) > 0.005 {
			t.Fatalf("sample %d: want %f within quantization, got %f", i, in.Samples[i], out.Samples[i])
		}
	}
}

func TestTroponinRoundTrip(t *testing.T) {
	c := testCodec(t)
	in := model.SensorFrame{
		Kind:               model.FrameTroponin,
		TroponinI:          0.05,
		TroponinT:          0.005,
		TroponinConfidence: 0.87,
		TroponinRisk:       0.25,
	}
	raw, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(raw, model.FrameTroponin)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TroponinI != in.TroponinI || out.TroponinT != in.TroponinT {
		t.Fatalf("troponin values lost: %+v", out)
	}
	if out.TroponinConfidence != in.TroponinConfidence || out.TroponinRisk != in.TroponinRisk {
		t.Fatalf("troponin metadata lost: %+v", out)
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	c := testCodec(t)
	for _, seq := range []uint32{0, 1, 7, 4294967295} {
		raw, err := c.Encode(model.SensorFrame{Kind: model.FrameGlucose, Sequence: seq, GlucoseMgDl: 100})
		if err != nil {
			t.Fatalf("encode seq %d: %v", seq, err)
		}
		out, err := c.Decode(raw, model.FrameGlucose)
		if err != nil {
			t.Fatalf("decode seq %d: %v", seq, err)
		}
		if out.Sequence != seq {
			t.Fatalf("sequence = %d, want %d", out.Sequence, seq)
		}
	}
}

func TestParseBodyRejectsMissingSequenceHeader(t *testing.T) {
	if _, err := parseBody([]byte{1, 2}, model.FrameBattery); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	c := testCodec(t)
	in := model.SensorFrame{Kind: model.FrameBattery, BatteryPct: 80}
	raw, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	other, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	if _, err := other.Decode(raw, model.FrameBattery); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecodeTamperedPacketFails(t *testing.T) {
	c := testCodec(t)
	raw, err := c.Encode(model.SensorFrame{Kind: model.FrameBattery, BatteryPct: 80})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if _, err := c.Decode(raw, model.FrameBattery); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecodeKindMismatchFails(t *testing.T) {
	// The frame kind is bound as associated data, so decoding under the
	// wrong characteristic rejects at the decrypt stage.
	c := testCodec(t)
	raw, err := c.Encode(model.SensorFrame{Kind: model.FrameBattery, BatteryPct: 80})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := c.Decode(raw, model.FrameGlucose); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	c := testCodec(t)
	in := model.SensorFrame{Kind: model.FrameECG}
	in.Samples = make([]float64, 500)
	raw, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := c.Decode(raw, model.FrameECG)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = out

	// Re-seal a truncated body and expect a malformed payload error.
	body, err := encodeBody(in)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	if _, err := parseBody(body[:len(body)-3], model.FrameECG); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecodeShortPacket(t *testing.T) {
	c := testCodec(t)
	if _, err := c.Decode([]byte{1, 2, 3}, model.FrameECG); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestKeyFromHex(t *testing.T) {
	if _, err := KeyFromHex("zz"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
	if _, err := KeyFromHex("00ff"); err == nil {
		t.Fatalf("expected error for short key")
	}
	key, err := KeyFromHex("000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(key))
	}
}
