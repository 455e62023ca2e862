// Package webrtc implements the optional WHIP-style ingest transport: an
// alternative to RTMP push for publishers that speak WebRTC directly
// (browsers, OBS-WHIP, mobile SDKs). It is ingest-only — there is no
// subscriber/SFU fan-out here, since playback leaves this process over the
// LL-HLS edge protocol instead of WebRTC. Adapted from the teacher's
// conferencing publisher's track-reading pattern down to a single
// PeerConnection per stream, forwarding RTP payloads into the same frame
// pipeline RTMP ingest feeds.
package webrtc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
)

// MediaFrame mirrors rtmp.MediaFrame's shape so both ingest transports feed
// the same downstream callback signature.
type MediaFrame struct {
	PTS      int64
	DTS      int64
	Video    bool
	KeyFrame bool
	Payload  []byte
}

// OnMediaFrame receives every RTP packet's payload for streamKey. WHIP
// ingest forwards raw per-packet RTP payload bytes rather than reassembled
// access units; an Encoder that needs whole access units reassembles NALUs
// itself, the same way it would consume raw FLV tag bodies from RTMP.
type OnMediaFrame func(streamKey string, frame MediaFrame)

// Ingest accepts WHIP publish requests: an HTTP POST carrying an SDP offer,
// answered synchronously once ICE gathering completes.
type Ingest struct {
	log     logger.Logger
	onMedia OnMediaFrame

	mu    sync.Mutex
	conns map[string]*webrtc.PeerConnection
}

// New builds an Ingest.
func New(log logger.Logger) *Ingest {
	return &Ingest{log: log, conns: make(map[string]*webrtc.PeerConnection)}
}

// SetOnMediaFrame sets the callback invoked for every received RTP packet.
func (i *Ingest) SetOnMediaFrame(fn OnMediaFrame) {
	i.onMedia = fn
}

// HandleOffer answers an SDP offer for streamKey and starts forwarding its
// tracks once a track arrives.
func (i *Ingest) HandleOffer(ctx context.Context, streamKey string, offerSDP string) (answerSDP string, err error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.Internal, "create peer connection", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		i.readTrack(streamKey, track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			i.Close(streamKey)
		}
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return "", coreerrors.Wrap(coreerrors.Internal, "add video transceiver", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return "", coreerrors.Wrap(coreerrors.Internal, "add audio transceiver", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return "", coreerrors.NewClientError("invalid SDP offer")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", coreerrors.Wrap(coreerrors.Internal, "create SDP answer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", coreerrors.Wrap(coreerrors.Internal, "set local description", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return "", coreerrors.Wrap(coreerrors.Timeout, "ICE gathering did not complete", ctx.Err())
	}

	i.mu.Lock()
	if existing, ok := i.conns[streamKey]; ok {
		existing.Close()
	}
	i.conns[streamKey] = pc
	i.mu.Unlock()

	return pc.LocalDescription().SDP, nil
}

func (i *Ingest) readTrack(streamKey string, remote *webrtc.TrackRemote) {
	video := remote.Kind() == webrtc.RTPCodecTypeVideo
	for {
		packet, _, err := remote.ReadRTP()
		if err != nil {
			if err != io.EOF {
				i.log.Warn("whip track read error", logger.NewField("stream", streamKey), logger.NewField("error", err.Error()))
			}
			return
		}
		if i.onMedia == nil {
			continue
		}
		i.onMedia(streamKey, frameFromPacket(video, packet))
	}
}

// frameFromPacket converts one received RTP packet into the shared
// MediaFrame shape.
func frameFromPacket(video bool, packet *rtp.Packet) MediaFrame {
	ts := int64(packet.Timestamp)
	return MediaFrame{
		PTS:      ts,
		DTS:      ts,
		Video:    video,
		KeyFrame: video && packet.Marker,
		Payload:  packet.Payload,
	}
}

// Close terminates streamKey's peer connection, if any.
func (i *Ingest) Close(streamKey string) error {
	i.mu.Lock()
	pc, ok := i.conns[streamKey]
	delete(i.conns, streamKey)
	i.mu.Unlock()
	if !ok {
		return nil
	}
	return pc.Close()
}

// CloseAll terminates every active peer connection, used on server
// shutdown.
func (i *Ingest) CloseAll() {
	i.mu.Lock()
	conns := i.conns
	i.conns = make(map[string]*webrtc.PeerConnection)
	i.mu.Unlock()
	for _, pc := range conns {
		pc.Close()
	}
}

// HandlerFor returns an http.HandlerFunc implementing the WHIP convention
// for streamKey: the request body is the SDP offer, the response body is
// the SDP answer.
func (i *Ingest) HandlerFor(streamKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read offer", http.StatusBadRequest)
			return
		}
		answer, err := i.HandleOffer(r.Context(), streamKey, string(body))
		if err != nil {
			status := http.StatusBadRequest
			if coreerrors.KindOf(err) == coreerrors.Internal {
				status = http.StatusInternalServerError
			}
			http.Error(w, fmt.Sprintf("%v", err), status)
			return
		}
		w.Header().Set("Content-Type", "application/sdp")
		w.Header().Set("Location", "/whip/"+streamKey)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(answer))
	}
}
