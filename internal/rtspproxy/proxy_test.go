package rtspproxy

import (
	"testing"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

func TestRemoveUnknownMountReturnsNotFound(t *testing.T) {
	p := New(18554)
	if err := p.RemoveMount("nonexistent"); err != ErrNotFound {
		t.Errorf("RemoveMount(unknown) = %v, want ErrNotFound", err)
	}
}

func TestNewProxyStartsWithNoMounts(t *testing.T) {
	p := New(18554)
	if got := p.MountCount(); got != 0 {
		t.Errorf("MountCount() = %d, want 0", got)
	}
	if p.Running() {
		t.Errorf("Running() = true, want false before any mount is added")
	}
}

func TestDuplicateMountNameRejectedWithoutNetworkSideEffects(t *testing.T) {
	p := New(18554)
	p.mounts["cam/front"] = &mount{name: "front", variant: Relay}

	if err := p.AddRelayMount("front", "rtsp://localhost/anything"); err != ErrAlreadyExists {
		t.Errorf("AddRelayMount for an existing name = %v, want ErrAlreadyExists", err)
	}
	if got := p.MountCount(); got != 1 {
		t.Errorf("MountCount() = %d, want 1 (rejected add must not add a second entry)", got)
	}
}

func TestOnRecordUnknownPathIsNotFound(t *testing.T) {
	p := New(18554)
	h := &handler{p: p}

	resp, err := h.OnRecord(&gortsplib.ServerHandlerOnRecordCtx{Path: "cam/missing"})
	if err != nil {
		t.Fatalf("OnRecord returned error: %v", err)
	}
	if resp.StatusCode != base.StatusNotFound {
		t.Errorf("OnRecord status = %v, want NotFound", resp.StatusCode)
	}
}

// TestOnRecordBeforeAnnounceRejected covers a RECORD that races ahead of
// ANNOUNCE on a Reencode mount: the stream does not exist yet, so there is
// nothing to register a packet-forwarding hook against.
func TestOnRecordBeforeAnnounceRejected(t *testing.T) {
	p := New(18554)
	p.mounts["cam/front"] = &mount{name: "front", variant: Reencode}
	h := &handler{p: p}

	resp, err := h.OnRecord(&gortsplib.ServerHandlerOnRecordCtx{Path: "cam/front"})
	if err == nil {
		t.Fatal("OnRecord before announce: want error, got nil")
	}
	if resp.StatusCode != base.StatusBadRequest {
		t.Errorf("OnRecord status = %v, want BadRequest", resp.StatusCode)
	}
}

// TestReencodeMountStreamNilBeforeAnnounce covers the handoff between
// OnAnnounce (which builds a Reencode mount's stream) and
// OnDescribe/OnSetup/OnRecord (which all need it): before OnAnnounce runs,
// getStream reports nil even though the mount itself is registered.
func TestReencodeMountStreamNilBeforeAnnounce(t *testing.T) {
	p := New(18554)
	m := &mount{name: "front", variant: Reencode}
	p.mounts["cam/front"] = m
	h := &handler{p: p}

	if _, ok := h.mountFor("cam/front"); !ok {
		t.Fatal("mountFor: mount should be registered")
	}
	if got := m.getStream(); got != nil {
		t.Fatalf("getStream before announce = %v, want nil", got)
	}

	m.setStream(&gortsplib.ServerStream{})
	if got := m.getStream(); got == nil {
		t.Fatal("getStream after setStream = nil, want non-nil")
	}
}
