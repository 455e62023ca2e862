package codec

import coreerrors "github.com/scufflelive/corevideo/pkg/errors"

// aacSampleRates is the MPEG-4 Audio sampling-frequency-index table used by
// AudioSpecificConfig.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AudioSpecificConfig is the 2-byte (minimum) MPEG-4 AAC configuration
// carried in an FLV AAC sequence header and mirrored into the mp4 esds box.
type AudioSpecificConfig struct {
	ObjectType     uint8
	SampleRateIdx  uint8
	SampleRate     int
	ChannelConfig  uint8
}

// DemuxAudioSpecificConfig parses the 2-byte form (5-bit object type, 4-bit
// sampling frequency index, 4-bit channel configuration); it does not
// decode the rarer extended/SBR tail, which the core does not need for
// remuxing.
func DemuxAudioSpecificConfig(b []byte) (*AudioSpecificConfig, error) {
	if len(b) < 2 {
		return nil, coreerrors.NewCodecError("short audio specific config", nil)
	}
	objectType := b[0] >> 3
	sampleRateIdx := (b[0]&0x07)<<1 | (b[1] >> 7)
	channelConfig := (b[1] >> 3) & 0x0F

	rate := 0
	if int(sampleRateIdx) < len(aacSampleRates) {
		rate = aacSampleRates[sampleRateIdx]
	}

	return &AudioSpecificConfig{
		ObjectType:    objectType,
		SampleRateIdx: sampleRateIdx,
		SampleRate:    rate,
		ChannelConfig: channelConfig,
	}, nil
}

// Mux serializes back to the 2-byte form.
func (c *AudioSpecificConfig) Mux() []byte {
	b0 := c.ObjectType<<3 | (c.SampleRateIdx >> 1)
	b1 := (c.SampleRateIdx&0x01)<<7 | c.ChannelConfig<<3
	return []byte{b0, b1}
}
