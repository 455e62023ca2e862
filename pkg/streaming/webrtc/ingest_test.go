package webrtc

import (
	"context"
	"testing"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
)

func TestHandleOfferRejectsInvalidSDP(t *testing.T) {
	ing := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"))

	_, err := ing.HandleOffer(context.Background(), "acme/room1", "not an sdp offer")
	if err == nil {
		t.Fatal("expected an error for a malformed SDP offer")
	}
	if coreerrors.KindOf(err) != coreerrors.Client {
		t.Fatalf("expected a client error, got kind %v", coreerrors.KindOf(err))
	}
}

func TestCloseOnUnknownStreamKeyIsNoop(t *testing.T) {
	ing := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	if err := ing.Close("nobody/home"); err != nil {
		t.Fatalf("expected no error closing an unknown stream, got %v", err)
	}
}

func TestCloseAllOnEmptyIngestIsNoop(t *testing.T) {
	ing := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	ing.CloseAll()
}
