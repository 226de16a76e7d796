package rtspproxy

import (
	"fmt"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// OnDescribe serves the mount matching the request path, or NotFound.
// gortsplib calls the small, optional ServerHandlerOnDescribe interface
// method the same way the scc-digitalhub RTSP sink's rtspHandler does. A
// Reencode mount with no ANNOUNCEd publisher yet reports NotFound the same
// as an unregistered path.
func (h *handler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	m, ok := h.mountFor(ctx.Path)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	stream := m.getStream()
	if stream == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnSetup allows SETUP for any registered mount path with a ready stream.
func (h *handler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	m, ok := h.mountFor(ctx.Path)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	stream := m.getStream()
	if stream == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnPlay allows PLAY once SETUP has succeeded.
func (h *handler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// OnAnnounce/OnRecord accept a Reencode mount's local ffmpeg publisher
// (ANNOUNCE+RECORD), matching the publisher side of the mediamtx-style
// publish/subscribe architecture described in proxy.go's package doc.
// OnAnnounce is where the mount's ServerStream actually gets built: a
// Reencode mount has no media description until its local ffmpeg publisher
// announces one.
func (h *handler) OnAnnounce(ctx *gortsplib.ServerHandlerOnAnnounceCtx) (*base.Response, error) {
	m, ok := h.mountFor(ctx.Path)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil
	}
	stream := &gortsplib.ServerStream{Server: h.p.server, Desc: ctx.Description}
	if err := stream.Initialize(); err != nil {
		return &base.Response{StatusCode: base.StatusInternalServerError}, fmt.Errorf("initialize reencode stream: %w", err)
	}
	m.setStream(stream)
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// OnRecord wires the Reencode mount's publisher packets into the mount's
// ServerStream. Without this, RECORD succeeds but PLAY readers never see a
// single packet: gortsplib does not forward RECORDed media on its own, the
// same registration AddRelayMount's client.OnPacketRTP does for the relay
// side.
func (h *handler) OnRecord(ctx *gortsplib.ServerHandlerOnRecordCtx) (*base.Response, error) {
	m, ok := h.mountFor(ctx.Path)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil
	}
	stream := m.getStream()
	if stream == nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, fmt.Errorf("record before announce for %s", ctx.Path)
	}
	ctx.Session.OnPacketRTPAny(func(medi *description.Media, _ format.Format, pkt *rtp.Packet) {
		stream.WritePacketRTP(medi, pkt)
	})
	return &base.Response{StatusCode: base.StatusOK}, nil
}
