package lookupd

import (
	"errors"
	"testing"
)

func TestLookupError_ErrorString(t *testing.T) {
	e := NewLookupError(CodeTimeout, "example.com", nil)
	if got := e.Error(); got != "lookupd: TIMEOUT example.com" {
		t.Errorf("got %q", got)
	}

	wrapped := NewLookupError(CodeServFail, "example.com", errors.New("boom"))
	if got := wrapped.Error(); got != "lookupd: SERVFAIL example.com: boom" {
		t.Errorf("got %q", got)
	}

	noHost := NewLookupError(CodeNotInitialized, "", nil)
	if got := noHost.Error(); got != "lookupd: NOTINITIALIZED" {
		t.Errorf("got %q", got)
	}
}

func TestLookupError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	e := NewLookupError(CodeServFail, "h", inner)
	if !errors.Is(e, inner) {
		t.Error("expected errors.Is to see through to the wrapped error")
	}
}

func TestCodeOf(t *testing.T) {
	code, ok := CodeOf(NewLookupError(CodeRefused, "h", nil))
	if !ok || code != CodeRefused {
		t.Errorf("got (%q,%v), want (%q,true)", code, ok, CodeRefused)
	}

	code, ok = CodeOf(errors.New("plain"))
	if ok || code != "" {
		t.Errorf("got (%q,%v), want (\"\",false)", code, ok)
	}
}

func TestCodeOf_SeesThroughWrapping(t *testing.T) {
	le := NewLookupError(CodeNotFound, "h", nil)
	wrapped := errors.Join(errors.New("context"), le)
	code, ok := CodeOf(wrapped)
	if !ok || code != CodeNotFound {
		t.Errorf("got (%q,%v), want (%q,true)", code, ok, CodeNotFound)
	}
}
