package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"vitalguard/internal/model"
)

// Wire body layouts, all little-endian. Every body starts with a uint32
// notification sequence counter, then fixed offsets per frame kind:
//
//	ecg            500 x int16 samples (mV = raw * 0.005), 1 byte heart rate, 1 byte arrhythmia flag
//	ppg            250 x (uint16 red, uint16 ir) interleaved pairs
//	imu            N x (int16 x, int16 y, int16 z) in milli-g, N >= 1
//	troponin       float64 I ng/mL, float64 T ng/mL, float64 confidence, float64 risk
//	blood_pressure uint16 systolic, uint16 diastolic, 1 byte pulse
//	glucose        float64 mg/dL
//	spo2           uint16 tenths of a percent
//	battery        1 byte percent
const (
	seqLen      = 4
	ecgSamples  = 500
	ecgScaleMV  = 0.005
	ppgPairs    = 250
	ecgBodyLen  = ecgSamples*2 + 2
	ppgBodyLen  = ppgPairs * 4
	tropBodyLen = 32
	bpBodyLen   = 5
	imuAxisLen  = 6
)

func parseBody(body []byte, kind model.FrameKind) (model.SensorFrame, error) {
	frame := model.SensorFrame{Kind: kind}
	if len(body) < seqLen {
		return frame, fmt.Errorf("%w: body shorter than the sequence header, got %d bytes", ErrMalformedPayload, len(body))
	}
	frame.Sequence = binary.LittleEndian.Uint32(body)
	body = body[seqLen:]
	switch kind {
	case model.FrameECG:
		if len(body) != ecgBodyLen {
			return frame, lengthErr(kind, ecgBodyLen, len(body))
		}
		samples := make([]float64, ecgSamples)
		for i := 0; i < ecgSamples; i++ {
			raw := int16(binary.LittleEndian.Uint16(body[i*2:]))
			samples[i] = float64(raw) * ecgScaleMV
		}
		frame.Samples = samples
		frame.HeartRate = int(body[ecgSamples*2])
		frame.ArrhythmiaFlag = body[ecgSamples*2+1] != 0

	case model.FramePPG:
		if len(body) != ppgBodyLen {
			return frame, lengthErr(kind, ppgBodyLen, len(body))
		}
		samples := make([]float64, ppgPairs*2)
		for i := 0; i < ppgPairs*2; i++ {
			samples[i] = float64(binary.LittleEndian.Uint16(body[i*2:]))
		}
		frame.Samples = samples

	case model.FrameIMU:
		if len(body) == 0 || len(body)%imuAxisLen != 0 {
			return frame, fmt.Errorf("%w: imu body must be a positive multiple of %d bytes, got %d", ErrMalformedPayload, imuAxisLen, len(body))
		}
		n := len(body) / 2
		samples := make([]float64, n)
		for i := 0; i < n; i++ {
			raw := int16(binary.LittleEndian.Uint16(body[i*2:]))
			samples[i] = float64(raw) / 1000.0 // milli-g to g
		}
		frame.Samples = samples

	case model.FrameTroponin:
		if len(body) != tropBodyLen {
			return frame, lengthErr(kind, tropBodyLen, len(body))
		}
		frame.TroponinI = readFloat64(body[0:])
		frame.TroponinT = readFloat64(body[8:])
		frame.TroponinConfidence = readFloat64(body[16:])
		frame.TroponinRisk = readFloat64(body[24:])

	case model.FrameBloodPressure:
		if len(body) != bpBodyLen {
			return frame, lengthErr(kind, bpBodyLen, len(body))
		}
		frame.Systolic = int(binary.LittleEndian.Uint16(body[0:]))
		frame.Diastolic = int(binary.LittleEndian.Uint16(body[2:]))
		frame.Pulse = int(body[4])

	case model.FrameGlucose:
		if len(body) != 8 {
			return frame, lengthErr(kind, 8, len(body))
		}
		frame.GlucoseMgDl = readFloat64(body)

	case model.FrameSpO2:
		if len(body) != 2 {
			return frame, lengthErr(kind, 2, len(body))
		}
		frame.SpO2Pct = float64(binary.LittleEndian.Uint16(body)) / 10.0

	case model.FrameBattery:
		if len(body) != 1 {
			return frame, lengthErr(kind, 1, len(body))
		}
		frame.BatteryPct = int(body[0])

	default:
		return frame, fmt.Errorf("%w: unknown frame kind %q", ErrMalformedPayload, kind)
	}
	return frame, nil
}

func encodeBody(frame model.SensorFrame) ([]byte, error) {
	payload, err := encodeKindBody(frame)
	if err != nil {
		return nil, err
	}
	body := make([]byte, seqLen+len(payload))
	binary.LittleEndian.PutUint32(body, frame.Sequence)
	copy(body[seqLen:], payload)
	return body, nil
}

func encodeKindBody(frame model.SensorFrame) ([]byte, error) {
	switch frame.Kind {
	case model.FrameECG:
		if len(frame.Samples) != ecgSamples {
			return nil, fmt.Errorf("%w: ecg frame needs %d samples, got %d", ErrMalformedPayload, ecgSamples, len(frame.Samples))
		}
		body := make([]byte, ecgBodyLen)
		for i, s := range frame.Samples {
			binary.LittleEndian.PutUint16(body[i*2:], uint16(int16(math.Round(s/ecgScaleMV))))
		}
		body[ecgSamples*2] = byte(frame.HeartRate)
		if frame.ArrhythmiaFlag {
			body[ecgSamples*2+1] = 1
		}
		return body, nil

	case model.FramePPG:
		if len(frame.Samples) != ppgPairs*2 {
			return nil, fmt.Errorf("%w: ppg frame needs %d samples, got %d", ErrMalformedPayload, ppgPairs*2, len(frame.Samples))
		}
		body := make([]byte, ppgBodyLen)
		for i, s := range frame.Samples {
			binary.LittleEndian.PutUint16(body[i*2:], uint16(math.Round(s)))
		}
		return body, nil

	case model.FrameIMU:
		if len(frame.Samples) == 0 || len(frame.Samples)%3 != 0 {
			return nil, fmt.Errorf("%w: imu frame needs a positive multiple of 3 samples, got %d", ErrMalformedPayload, len(frame.Samples))
		}
		body := make([]byte, len(frame.Samples)*2)
		for i, s := range frame.Samples {
			binary.LittleEndian.PutUint16(body[i*2:], uint16(int16(math.Round(s*1000))))
		}
		return body, nil

	case model.FrameTroponin:
		body := make([]byte, tropBodyLen)
		putFloat64(body[0:], frame.TroponinI)
		putFloat64(body[8:], frame.TroponinT)
		putFloat64(body[16:], frame.TroponinConfidence)
		putFloat64(body[24:], frame.TroponinRisk)
		return body, nil

	case model.FrameBloodPressure:
		body := make([]byte, bpBodyLen)
		binary.LittleEndian.PutUint16(body[0:], uint16(frame.Systolic))
		binary.LittleEndian.PutUint16(body[2:], uint16(frame.Diastolic))
		body[4] = byte(frame.Pulse)
		return body, nil

	case model.FrameGlucose:
		body := make([]byte, 8)
		putFloat64(body, frame.GlucoseMgDl)
		return body, nil

	case model.FrameSpO2:
		body := make([]byte, 2)
		binary.LittleEndian.PutUint16(body, uint16(math.Round(frame.SpO2Pct*10)))
		return body, nil

	case model.FrameBattery:
		return []byte{byte(frame.BatteryPct)}, nil
	}
	return nil, fmt.Errorf("%w: unknown frame kind %q", ErrMalformedPayload, frame.Kind)
}

func lengthErr(kind model.FrameKind, want, got int) error {
	return fmt.Errorf("%w: %s body must be %d bytes, got %d", ErrMalformedPayload, kind, want, got)
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func putFloat64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}
