package fault

import (
	"errors"
	"testing"

	"github.com/nogipx/rpcengine-go/marker"
)

func TestCategoryCodeMapping(t *testing.T) {
	cases := map[Category]marker.Code{
		Argument:          marker.InvalidArgument,
		Format:            marker.InvalidArgument,
		Serialization:     marker.Internal,
		Timeout:           marker.DeadlineExceeded,
		IllegalState:      marker.FailedPrecondition,
		NotImplemented:    marker.Unimplemented,
		TransportClosed:   marker.Unavailable,
		MiddlewareFailure: marker.Internal,
		Custom:            marker.Internal,
		Internal:          marker.Internal,
	}
	for cat, want := range cases {
		if got := cat.Code(); got != want {
			t.Errorf("%v.Code() = %v, want %v", cat, got, want)
		}
	}
}

func TestToStatusNilIsOK(t *testing.T) {
	st := ToStatus(nil)
	if st.Code != marker.OK {
		t.Fatalf("ToStatus(nil).Code = %v, want OK", st.Code)
	}
}

func TestToStatusNonFaultIsInternal(t *testing.T) {
	st := ToStatus(errors.New("boom"))
	if st.Code != marker.Internal {
		t.Fatalf("ToStatus(plain error).Code = %v, want Internal", st.Code)
	}
	if st.Message != "boom" {
		t.Fatalf("ToStatus(plain error).Message = %q, want %q", st.Message, "boom")
	}
}

func TestToStatusFaultUsesItsCategory(t *testing.T) {
	f := ArgumentError("bad field %q", "id")
	st := ToStatus(f)
	if st.Code != marker.InvalidArgument {
		t.Fatalf("ToStatus(ArgumentError).Code = %v, want InvalidArgument", st.Code)
	}
	if st.Details == nil || st.Details.Error == "" {
		t.Fatal("expected Details.Error to be populated")
	}
}

func TestWrapPreservesFaultCategory(t *testing.T) {
	inner := NotImplementedError("svc", "method")
	wrapped := Wrap(inner, Internal, "dispatch")
	if wrapped.Category() != NotImplemented {
		t.Fatalf("Wrap should preserve the original Fault's category, got %v", wrapped.Category())
	}
}

func TestWrapPlainErrorUsesGivenCategory(t *testing.T) {
	wrapped := Wrap(errors.New("io failure"), TransportClosed, "send")
	if wrapped.Category() != TransportClosed {
		t.Fatalf("Wrap(plain error).Category() = %v, want TransportClosed", wrapped.Category())
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatal("expected Fault to satisfy errors.Is against itself")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, Internal, "ctx") != nil {
		t.Fatal("Wrap(nil, ...) must return nil")
	}
}
