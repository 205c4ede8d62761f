package remote

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/aegisd/aegis/pkg/audio"
)

// maxOpusFrameSize is the largest Opus frame duration we accept (120 ms at
// 48 kHz). gopus needs an upper bound on decoded samples per packet.
const maxOpusFrameSize = 48000 * 120 / 1000

// decoder converts one wire message into mono PCM at the pipeline rate.
type decoder struct {
	cfg  Config
	opus *gopus.Decoder
}

func newDecoder(cfg Config) (*decoder, error) {
	d := &decoder{cfg: cfg}
	if cfg.Codec == CodecOpus {
		dec, err := gopus.NewDecoder(cfg.WireSampleRate, cfg.WireChannels)
		if err != nil {
			return nil, fmt.Errorf("remote: create opus decoder: %w", err)
		}
		d.opus = dec
	}
	return d, nil
}

// decode returns mono int16 samples at cfg.SampleRate for one wire message.
func (d *decoder) decode(data []byte) ([]int16, error) {
	var samples []int16
	switch d.cfg.Codec {
	case CodecOpus:
		pcm, err := d.opus.Decode(data, maxOpusFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("remote: opus decode: %w", err)
		}
		samples = pcm
	case CodecPCM16:
		samples = audio.BytesToInt16(data)
	default:
		return nil, fmt.Errorf("remote: unknown codec %q", d.cfg.Codec)
	}

	if d.cfg.WireChannels == 2 {
		samples = audio.StereoToMono(samples)
	}
	return audio.ResampleMono(samples, d.cfg.WireSampleRate, d.cfg.SampleRate), nil
}
