// Package edge implements the Live Playlist Server: HTTP handlers for
// rendition playlists with LL-HLS blocked reads, media part delivery, and
// DVR redirects, plus the CORS and query-parameter handling every
// handler shares.
package edge

import (
	"net/url"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
)

// BlockStyle is the mutually-exclusive family of "wait for this to exist"
// query parameters a playlist request may carry.
type blockStyleKind int

const (
	blockStyleNone blockStyleKind = iota
	blockStyleHLS                 // _HLS_msn[/_HLS_part]
	blockStyleScufflePart          // _SCUFFLE_part
	blockStyleScuffleIPart         // _SCUFFLE_ipart
)

type blockStyle struct {
	kind       blockStyleKind
	msn        int64
	part       uint32
	scuffleVal uint32
}

// isBlocked reports whether, given the next write position (segment index
// and segment-local part index), the request's target has not yet been
// published and the handler should suspend rather than respond
// immediately: it stays blocked until the position is strictly past the
// target.
func (b blockStyle) isBlocked(currentSegment int64, currentPart uint32) bool {
	switch b.kind {
	case blockStyleHLS:
		if b.msn > currentSegment {
			return true
		}
		return b.msn == currentSegment && b.part >= currentPart
	case blockStyleScufflePart, blockStyleScuffleIPart:
		return b.scuffleVal >= currentPart
	default:
		return false
	}
}

// HLSConfig is the parsed, validated set of LL-HLS query parameters for
// one playlist request.
type HLSConfig struct {
	block       blockStyle
	Skip        bool
	SkipV2      bool
	DVR         bool
	JSON        bool
}

// IsBlocked reports whether the request should be held open waiting for
// more data before the handler responds.
func (c HLSConfig) IsBlocked(currentSegment int64, currentPart uint32) bool {
	return c.block.isBlocked(currentSegment, currentPart)
}

// HasMSN reports whether a blocking MSN/part target was requested, and
// returns it.
func (c HLSConfig) HasMSN() (segment int64, part uint32, ok bool) {
	if c.block.kind != blockStyleHLS {
		return 0, 0, false
	}
	return c.block.msn, c.block.part, true
}

// ParseHLSConfig left-folds over the request's query parameters building
// up an HLSConfig, exactly mirroring the upstream edge server's parser:
// _HLS_msn and _HLS_part compose into a single Hls block style (an
// _HLS_part with no prior _HLS_msn is accepted silently, matching the
// original's permissive fallthrough); _SCUFFLE_part and _SCUFFLE_ipart are
// each mutually exclusive with every other block style and with each
// other; _HLS_skip must be "YES" or "v2"; _SCUFFLE_dvr and _SCUFFLE_json
// must be "YES". Unknown keys are ignored.
func ParseHLSConfig(raw string) (HLSConfig, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return HLSConfig{}, coreerrors.NewClientError("malformed query string")
	}

	var cfg HLSConfig

	if v := values.Get("_HLS_msn"); v != "" {
		msn, perr := parseInt64(v)
		if perr != nil {
			return HLSConfig{}, coreerrors.NewClientError("invalid _HLS_msn")
		}
		switch cfg.block.kind {
		case blockStyleNone:
			cfg.block = blockStyle{kind: blockStyleHLS, msn: msn}
		case blockStyleHLS:
			cfg.block.msn = msn
		default:
			// a block style incompatible with _HLS_msn was already set;
			// the original silently ignores this rather than erroring.
		}
	}

	if v := values.Get("_HLS_part"); v != "" {
		part, perr := parseUint32(v)
		if perr != nil {
			return HLSConfig{}, coreerrors.NewClientError("invalid _HLS_part")
		}
		switch cfg.block.kind {
		case blockStyleNone:
			cfg.block = blockStyle{kind: blockStyleHLS, part: part}
		case blockStyleHLS:
			cfg.block.part = part
		default:
		}
	}

	if v := values.Get("_SCUFFLE_part"); v != "" {
		if cfg.block.kind != blockStyleNone {
			return HLSConfig{}, coreerrors.NewClientError("Cannot use _SCUFFLE_part with _HLS_msn or _HLS_part or _SCUFFLE_ipart")
		}
		val, perr := parseUint32(v)
		if perr != nil {
			return HLSConfig{}, coreerrors.NewClientError("invalid _SCUFFLE_part")
		}
		cfg.block = blockStyle{kind: blockStyleScufflePart, scuffleVal: val}
	}

	if v := values.Get("_SCUFFLE_ipart"); v != "" {
		if cfg.block.kind != blockStyleNone {
			return HLSConfig{}, coreerrors.NewClientError("Cannot use _SCUFFLE_ipart with _HLS_msn or _HLS_part or _SCUFFLE_part")
		}
		val, perr := parseUint32(v)
		if perr != nil {
			return HLSConfig{}, coreerrors.NewClientError("invalid _SCUFFLE_ipart")
		}
		cfg.block = blockStyle{kind: blockStyleScuffleIPart, scuffleVal: val}
	}

	if v := values.Get("_HLS_skip"); v != "" {
		switch v {
		case "YES":
			cfg.Skip = true
		case "v2":
			cfg.Skip = true
			cfg.SkipV2 = true
		default:
			return HLSConfig{}, coreerrors.NewClientError("_HLS_skip must be YES or v2")
		}
	}

	if v := values.Get("_SCUFFLE_dvr"); v != "" {
		if v != "YES" {
			return HLSConfig{}, coreerrors.NewClientError("_SCUFFLE_dvr must be YES")
		}
		cfg.DVR = true
	}

	if v := values.Get("_SCUFFLE_json"); v != "" {
		if v != "YES" {
			return HLSConfig{}, coreerrors.NewClientError("_SCUFFLE_json must be YES")
		}
		cfg.JSON = true
	}

	return cfg, nil
}

func parseInt64(s string) (int64, error) {
	var v int64
	neg := false
	i := 0
	if len(s) > 0 && s[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(s) {
		return 0, coreerrors.NewClientError("empty integer")
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, coreerrors.NewClientError("not an integer")
		}
		v = v*10 + int64(s[i]-'0')
	}
	if neg {
		v = -v
	}
	return v, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := parseInt64(s)
	if err != nil || v < 0 {
		return 0, coreerrors.NewClientError("not a non-negative integer")
	}
	return uint32(v), nil
}
