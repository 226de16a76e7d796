package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func testContext(form url.Values) *gin.Context {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return c
}

func TestIsTruthy(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"true":  true,
		"TRUE":  true,
		"on":    true,
		" On ":  true,
		"0":     false,
		"false": false,
		"off":   false,
		"":      false,
		"yes":   false,
	}
	for in, want := range cases {
		if got := isTruthy(in); got != want {
			t.Errorf("isTruthy(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOnOff(t *testing.T) {
	if got := onOff(true); got != "enabled" {
		t.Errorf("onOff(true) = %q, want %q", got, "enabled")
	}
	if got := onOff(false); got != "disabled" {
		t.Errorf("onOff(false) = %q, want %q", got, "disabled")
	}
}

func TestParseFrameSize(t *testing.T) {
	tests := []struct {
		in     string
		w, h   int
		wantOk bool
	}{
		{"640x480", 640, 480, true},
		{"1920X1080", 1920, 1080, true},
		{" 320 x 240 ", 320, 240, true},
		{"", 0, 0, false},
		{"640", 0, 0, false},
		{"widexhigh", 0, 0, false},
		{"640x", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, ok := parseFrameSize(tt.in)
		if ok != tt.wantOk || w != tt.w || h != tt.h {
			t.Errorf("parseFrameSize(%q) = (%d, %d, %v), want (%d, %d, %v)", tt.in, w, h, ok, tt.w, tt.h, tt.wantOk)
		}
	}
}

func TestFormBoolFallsBackWhenAbsent(t *testing.T) {
	c := testContext(url.Values{})
	if got := formBool(c, "segment", true); got != true {
		t.Errorf("formBool(absent) = %v, want default true", got)
	}
}

func TestFormBoolParsesPresentValue(t *testing.T) {
	c := testContext(url.Values{"segment": {"1"}})
	if got := formBool(c, "segment", false); got != true {
		t.Errorf("formBool(%q) = %v, want true", "1", got)
	}
}

func TestFormIntFallsBackWhenAbsent(t *testing.T) {
	c := testContext(url.Values{})
	n, err := formInt(c, "segment_bitrate", 4096)
	if err != nil || n != 4096 {
		t.Errorf("formInt(absent) = (%d, %v), want (4096, nil)", n, err)
	}
}

func TestFormIntRejectsNonNumeric(t *testing.T) {
	c := testContext(url.Values{"segment_bitrate": {"not-a-number"}})
	if _, err := formInt(c, "segment_bitrate", 4096); err == nil {
		t.Error("formInt(\"not-a-number\") returned nil error, want a parse error")
	}
}

func TestFormFloatParsesPresentValue(t *testing.T) {
	c := testContext(url.Values{"motion_threshold": {"0.25"}})
	f, err := formFloat(c, "motion_threshold", 0)
	if err != nil || f != 0.25 {
		t.Errorf("formFloat(%q) = (%v, %v), want (0.25, nil)", "0.25", f, err)
	}
}
