package mp4

// Sample is one fragment sample: its duration and size in bytes, its
// composition-time offset (PTS - DTS, zero for audio and for video GOPs
// without B-frames), and its sync/dependency flags.
type Sample struct {
	Duration              uint32
	Size                  uint32
	CompositionTimeOffset int32
	// DependsOnOthers: true means this sample is not independently
	// decodable (not a sync sample / keyframe). Mirrors the trun sample
	// flags field's sample_depends_on bits (2 == does not depend, i.e.
	// keyframe; 1 == depends on others).
	DependsOnOthers bool
}

func (s Sample) flagsWord() uint32 {
	dependsOn := uint32(1)
	if !s.DependsOnOthers {
		dependsOn = 2
	}
	// is_leading=0, sample_depends_on, sample_is_depended_on=0,
	// sample_has_redundancy=0, sample_padding_value=0,
	// sample_is_non_sync_sample = DependsOnOthers, degradation_priority=0
	isNonSync := uint32(0)
	if s.DependsOnOthers {
		isNonSync = 1
	}
	return dependsOn<<24 | isNonSync<<16
}

// trun full-box flags, ISO/IEC 14496-12 8.8.8.3.
const (
	trunFlagDataOffset        = 0x000001
	trunFlagFirstSampleFlags  = 0x000004
	trunFlagSampleDuration    = 0x000100
	trunFlagSampleSize        = 0x000200
	trunFlagSampleFlags       = 0x000400
	trunFlagSampleCompTimeOff = 0x000800
)

// tfhd full-box flags, ISO/IEC 14496-12 8.8.7.1.
const (
	tfhdFlagBaseDataOffset       = 0x000001
	tfhdFlagSampleDescriptionIdx = 0x000002
	tfhdFlagDefaultSampleDur     = 0x000008
	tfhdFlagDefaultSampleSize    = 0x000010
	tfhdFlagDefaultSampleFlags   = 0x000020
	tfhdFlagDurationIsEmpty      = 0x010000
	tfhdFlagDefaultBaseIsMoof    = 0x020000
)

// Traf is one track fragment: its per-sample data plus the tfhd/trun
// default-field optimization computed by Optimize.
type Traf struct {
	TrackID uint32
	Samples []Sample

	// Computed by Optimize; nil/zero until it has run.
	DefaultSampleDuration uint32
	DefaultSampleSize     uint32
	DefaultSampleFlags    uint32
	HasDefaultFlags       bool
	HasDefaultDuration    bool
	HasDefaultSize        bool
	FirstSampleFlags      uint32
	HasFirstSampleFlags   bool
	OmitCompositionOffset bool

	optimized bool
}

// Optimize computes which per-sample fields can be hoisted into tfhd
// defaults (or dropped from trun) instead of being repeated for every
// sample. Mirrors the muxer's own traf constant-folding pass exactly:
//
//   - default_sample_flags is taken from samples[1]'s flags (not
//     samples[0]'s) and only considered when there is more than one
//     sample; it applies when every sample from index 2 onward shares
//     that value. If the first sample's flags differ from the computed
//     default, first_sample_flags carries the override instead of
//     falling back to per-sample flags.
//   - composition_time_offset is dropped entirely when every sample's
//     offset is zero.
//   - default_sample_duration/size are hoisted when every sample after
//     the first matches the first sample's value.
func (t *Traf) Optimize() {
	if t.optimized {
		return
	}
	t.optimized = true

	n := len(t.Samples)
	if n == 0 {
		return
	}

	if n > 1 {
		candidate := t.Samples[1].flagsWord()
		allMatch := true
		for i := 2; i < n; i++ {
			if t.Samples[i].flagsWord() != candidate {
				allMatch = false
				break
			}
		}
		if allMatch {
			t.DefaultSampleFlags = candidate
			t.HasDefaultFlags = true
			if first := t.Samples[0].flagsWord(); first != candidate {
				t.FirstSampleFlags = first
				t.HasFirstSampleFlags = true
			}
		}
	}

	allZeroOffset := true
	for _, s := range t.Samples {
		if s.CompositionTimeOffset != 0 {
			allZeroOffset = false
			break
		}
	}
	t.OmitCompositionOffset = allZeroOffset

	if n > 1 {
		durCandidate := t.Samples[0].Duration
		durMatch := true
		sizeCandidate := t.Samples[0].Size
		sizeMatch := true
		for _, s := range t.Samples[1:] {
			if s.Duration != durCandidate {
				durMatch = false
			}
			if s.Size != sizeCandidate {
				sizeMatch = false
			}
		}
		if durMatch {
			t.DefaultSampleDuration = durCandidate
			t.HasDefaultDuration = true
		}
		if sizeMatch {
			t.DefaultSampleSize = sizeCandidate
			t.HasDefaultSize = true
		}
	}
}

// Duration sums sample durations, falling back to DefaultSampleDuration
// for any sample that omits its own (possible only after Optimize has
// hoisted a uniform duration).
func (t *Traf) Duration() uint64 {
	t.Optimize()
	var total uint64
	for _, s := range t.Samples {
		d := s.Duration
		if d == 0 && t.HasDefaultDuration {
			d = t.DefaultSampleDuration
		}
		total += uint64(d)
	}
	return total
}

// ContainsKeyframe reports whether any sample in the fragment is
// independently decodable.
func (t *Traf) ContainsKeyframe() bool {
	t.Optimize()
	if t.HasFirstSampleFlags {
		if t.FirstSampleFlags>>24&0x3 == 2 {
			return true
		}
	} else if t.HasDefaultFlags && t.DefaultSampleFlags>>24&0x3 == 2 {
		return true
	}
	for _, s := range t.Samples {
		if !s.DependsOnOthers {
			return true
		}
	}
	return false
}

// build serializes the traf box (tfhd+trun) using the fields Optimize
// computed. baseDataOffset is not written: tfhd always sets
// default-base-is-moof (ISO/IEC 14496-12), so trun's dataOffset counts
// from the first byte of the enclosing moof.
func (t *Traf) build(baseDataOffset uint64, dataOffset int32) []byte {
	t.Optimize()

	tfhdFlags := uint32(tfhdFlagDefaultBaseIsMoof | tfhdFlagDefaultSampleDur | tfhdFlagDefaultSampleSize | tfhdFlagDefaultSampleFlags)
	if !t.HasDefaultDuration {
		tfhdFlags &^= tfhdFlagDefaultSampleDur
	}
	if !t.HasDefaultSize {
		tfhdFlags &^= tfhdFlagDefaultSampleSize
	}
	if !t.HasDefaultFlags {
		tfhdFlags &^= tfhdFlagDefaultSampleFlags
	}

	tfhd := newBox("tfhd")
	tfhd.fullBox(0, tfhdFlags)
	tfhd.u32(t.TrackID)
	if t.HasDefaultDuration {
		tfhd.u32(t.DefaultSampleDuration)
	}
	if t.HasDefaultSize {
		tfhd.u32(t.DefaultSampleSize)
	}
	if t.HasDefaultFlags {
		tfhd.u32(t.DefaultSampleFlags)
	}

	trunFlags := uint32(trunFlagDataOffset | trunFlagSampleDuration | trunFlagSampleSize | trunFlagSampleFlags)
	if t.HasDefaultDuration {
		trunFlags &^= trunFlagSampleDuration
	}
	if t.HasDefaultSize {
		trunFlags &^= trunFlagSampleSize
	}
	if t.HasDefaultFlags {
		trunFlags &^= trunFlagSampleFlags
	}
	if t.HasFirstSampleFlags {
		trunFlags |= trunFlagFirstSampleFlags
	}
	if !t.OmitCompositionOffset {
		trunFlags |= trunFlagSampleCompTimeOff
	}

	trun := newBox("trun")
	trun.fullBox(0, trunFlags)
	trun.u32(uint32(len(t.Samples)))
	trun.i32(dataOffset)
	if t.HasFirstSampleFlags {
		trun.u32(t.FirstSampleFlags)
	}
	for i, s := range t.Samples {
		if !t.HasDefaultDuration {
			trun.u32(s.Duration)
		}
		if !t.HasDefaultSize {
			trun.u32(s.Size)
		}
		if !t.HasDefaultFlags {
			trun.u32(s.flagsWord())
		} else if i == 0 && t.HasFirstSampleFlags {
			// first sample's flags already carried above
		}
		if !t.OmitCompositionOffset {
			trun.i32(s.CompositionTimeOffset)
		}
	}

	b := newBox("traf")
	b.child(tfhd.done())
	b.child(trun.done())
	return b.done()
}
